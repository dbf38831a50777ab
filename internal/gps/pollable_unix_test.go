//go:build unix

package gps

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestPollableCloseWakesBlockedRead(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	w := os.NewFile(uintptr(fds[1]), "pipe-w")
	defer w.Close()
	// A blocking descriptor, as jacobsa/go-serial leaves it.
	r := os.NewFile(uintptr(fds[0]), "pipe-r")

	port, err := pollable(r, "pipe-r")
	if err != nil {
		t.Fatalf("pollable: %v", err)
	}

	if _, err := w.Write([]byte("$")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 8)
	if n, err := port.Read(buf); err != nil || n != 1 {
		t.Fatalf("read = %d, %v", n, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := port.Read(buf)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	port.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("read after close returned no error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not wake the pending Read")
	}
}

//go:build unix

package gps

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// pollable replaces a blocking file with a non-blocking duplicate that the
// runtime poller manages, so Close wakes a goroutine parked in Read. dev is
// closed in every case except when it exposes no descriptor.
func pollable(dev io.ReadCloser, name string) (io.ReadCloser, error) {
	sc, ok := dev.(syscall.Conn)
	if !ok {
		return dev, nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("gps: %s: %w", name, err)
	}

	dup := -1
	var dupErr error
	if err := raw.Control(func(fd uintptr) {
		dup, dupErr = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		dupErr = err
	}
	dev.Close()
	if dupErr != nil {
		return nil, fmt.Errorf("gps: dup %s: %w", name, dupErr)
	}

	if err := unix.SetNonblock(dup, true); err != nil {
		unix.Close(dup)
		return nil, fmt.Errorf("gps: set non-blocking %s: %w", name, err)
	}
	f := os.NewFile(uintptr(dup), name)
	if f == nil {
		unix.Close(dup)
		return nil, fmt.Errorf("gps: os.NewFile failed for %s", name)
	}
	return f, nil
}

//go:build !linux

package gps

import (
	"fmt"
	"os"
)

func openTermios(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("gps: termios driver not supported on this platform")
}

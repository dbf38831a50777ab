package gps

import (
	"io"
	"log"
)

// TermiosTransport configures the tty directly through termios ioctls.
// Only Linux is supported.
type TermiosTransport struct {
	portPath string
	baudRate int
}

// NewTermios creates a termios transport.
func NewTermios(cfg TransportConfig) *TermiosTransport {
	return &TermiosTransport{portPath: cfg.PortPath, baudRate: cfg.BaudRate}
}

func (t *TermiosTransport) Name() string { return "termios " + t.portPath }

func (t *TermiosTransport) Open() (io.ReadCloser, error) {
	f, err := openTermios(t.portPath, t.baudRate)
	if err != nil {
		return nil, err
	}
	log.Printf("[gps] opened %s at %d baud (termios)", t.portPath, t.baudRate)
	return f, nil
}

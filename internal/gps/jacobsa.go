package gps

import (
	"fmt"
	"io"
	"log"

	jserial "github.com/jacobsa/go-serial/serial"
)

// JacobsaTransport opens the port with github.com/jacobsa/go-serial.
//
// The library leaves the descriptor in blocking mode, where Close cannot wake
// a pending Read. Open hands back a non-blocking copy of the descriptor
// instead.
type JacobsaTransport struct {
	portPath string
	baudRate int
}

// NewJacobsa creates a jacobsa/go-serial transport.
func NewJacobsa(cfg TransportConfig) *JacobsaTransport {
	return &JacobsaTransport{portPath: cfg.PortPath, baudRate: cfg.BaudRate}
}

func (j *JacobsaTransport) Name() string { return "jacobsa " + j.portPath }

func (j *JacobsaTransport) Open() (io.ReadCloser, error) {
	options := jserial.OpenOptions{
		PortName:              j.portPath,
		BaudRate:              uint(j.baudRate),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            jserial.PARITY_NONE,
		MinimumReadSize:       1,
		InterCharacterTimeout: 0,
	}
	dev, err := jserial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("gps: failed to open %s: %w", j.portPath, err)
	}
	port, err := pollable(dev, j.portPath)
	if err != nil {
		return nil, err
	}
	log.Printf("[gps] opened %s at %d baud (jacobsa)", j.portPath, j.baudRate)
	return port, nil
}

package gps

import (
	"fmt"
	"io"
	"log"

	"go.bug.st/serial"
)

// SerialTransport opens a UART with go.bug.st/serial.
// Compatible with u-blox NEO-M8N and any standard NMEA GPS.
type SerialTransport struct {
	portPath string
	baudRate int
}

// NewSerial creates a serial transport.
func NewSerial(cfg TransportConfig) *SerialTransport {
	return &SerialTransport{portPath: cfg.PortPath, baudRate: cfg.BaudRate}
}

func (s *SerialTransport) Name() string { return "serial " + s.portPath }

// Open configures the line for raw 8-N-1 without flow control. Reads block
// until at least one byte arrives; Close unblocks them.
func (s *SerialTransport) Open() (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.portPath, mode)
	if err != nil {
		return nil, fmt.Errorf("gps: failed to open %s: %w", s.portPath, err)
	}
	if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("gps: failed to set blocking reads on %s: %w", s.portPath, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Printf("[gps] flush %s: %v", s.portPath, err)
	}
	log.Printf("[gps] opened %s at %d baud", s.portPath, s.baudRate)
	return port, nil
}

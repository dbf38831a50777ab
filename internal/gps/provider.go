package gps

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Transport is a byte stream source for NMEA data.
type Transport interface {
	Name() string
	// Open returns a handle whose Read blocks until at least one byte is
	// available. Closing the handle must unblock a pending Read.
	Open() (io.ReadCloser, error)
}

// TransportConfig selects and configures a transport driver.
type TransportConfig struct {
	Driver           string `yaml:"driver" json:"driver"`       // "serial", "termios", "jacobsa", "demo", "replay"
	PortPath         string `yaml:"port_path" json:"portPath"`  // e.g. /dev/ttyAMA0
	BaudRate         int    `yaml:"baud_rate" json:"baudRate"`  //
	ReplayPath       string `yaml:"replay_path" json:"replayPath"`
	ReplayIntervalMs int    `yaml:"replay_interval_ms" json:"replayIntervalMs"` // Delay between replayed lines
}

// NewTransport builds the driver named by cfg.Driver.
func NewTransport(cfg TransportConfig) (Transport, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "serial":
		return NewSerial(cfg), nil
	case "termios":
		return NewTermios(cfg), nil
	case "jacobsa":
		return NewJacobsa(cfg), nil
	case "demo":
		return NewDemo(nil, time.Second), nil
	case "replay":
		if cfg.ReplayPath == "" {
			return nil, fmt.Errorf("gps: replay driver needs replay_path")
		}
		return NewReplay(cfg.ReplayPath, time.Duration(cfg.ReplayIntervalMs)*time.Millisecond, nil), nil
	default:
		return nil, fmt.Errorf("gps: unknown driver %q", cfg.Driver)
	}
}

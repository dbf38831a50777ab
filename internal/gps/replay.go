package gps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ReplayTransport plays back a captured NMEA log, one line per interval.
// The stream ends with io.EOF after the last line.
type ReplayTransport struct {
	path     string
	interval time.Duration
	clock    clock.Clock
}

// NewReplay creates a replay transport. A zero interval replays as fast as
// the reader consumes.
func NewReplay(path string, interval time.Duration, clk clock.Clock) *ReplayTransport {
	if clk == nil {
		clk = clock.New()
	}
	return &ReplayTransport{path: path, interval: interval, clock: clk}
}

func (r *ReplayTransport) Name() string { return "replay " + r.path }

func (r *ReplayTransport) Open() (io.ReadCloser, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("gps: open replay %s: %w", r.path, err)
	}
	return &replayStream{
		f:        f,
		br:       bufio.NewReader(f),
		interval: r.interval,
		clock:    r.clock,
		done:     make(chan struct{}),
	}, nil
}

type replayStream struct {
	f        *os.File
	br       *bufio.Reader
	interval time.Duration
	clock    clock.Clock
	pending  []byte
	started  bool
	done     chan struct{}
	once     sync.Once
}

func (s *replayStream) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		if s.started && s.interval > 0 {
			select {
			case <-s.done:
				return 0, os.ErrClosed
			case <-s.clock.After(s.interval):
			}
		}
		s.started = true
		line, err := s.br.ReadString('\n')
		if len(line) == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, err
		}
		if line[len(line)-1] != '\n' {
			line += "\r\n"
		}
		s.pending = []byte(line)
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *replayStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.f.Close()
}

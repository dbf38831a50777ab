package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shaunagostinho/gnssd/internal/nmea"
)

const (
	DefaultEventBuffer  = 64
	DefaultRetryBackoff = time.Second

	readBufferSize = 4096
)

// ReaderConfig tunes a Reader. Zero values pick the defaults; use
// SetMinFixInterval for an explicit zero fix interval.
type ReaderConfig struct {
	MinFixInterval time.Duration
	Checksum       nmea.ChecksumPolicy
	EventBuffer    int           // Capacity of the event channel
	RetryBackoff   time.Duration // Pause after a failed read
	Clock          clock.Clock
}

// Reader owns a transport and decodes it on a background goroutine.
//
// Events flow through a bounded channel to a dispatch goroutine that calls
// the Handler serially. Stop cancels the session, closes the transport to
// unblock the pending read, and waits for both goroutines. Once Stop returns
// no further callbacks are made.
type Reader struct {
	cfg       ReaderConfig
	transport Transport
	handler   Handler

	lifecycle sync.Mutex // serializes Start and Stop

	mu             sync.Mutex
	sess           *readerSession
	last           *nmea.Decoder
	minFixInterval time.Duration
}

type readerSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	port   io.ReadCloser
	dec    *nmea.Decoder
	events chan nmea.Event
	wg     sync.WaitGroup
}

// emit blocks while the channel is full, unless the session is cancelled.
func (s *readerSession) emit(ev nmea.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// NewReader creates a stopped reader. With a nil handler, events are
// consumed from Events instead.
func NewReader(cfg ReaderConfig, t Transport, h Handler) *Reader {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.MinFixInterval <= 0 {
		cfg.MinFixInterval = nmea.DefaultMinFixInterval
	}
	return &Reader{
		cfg:            cfg,
		transport:      t,
		handler:        h,
		minFixInterval: cfg.MinFixInterval,
	}
}

func (r *Reader) Name() string { return r.transport.Name() }

// Start opens the transport and launches the decode session. Starting a
// running reader is a no-op. Each session starts from empty fix and
// satellite state.
func (r *Reader) Start() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	running := r.sess != nil
	iv := r.minFixInterval
	r.mu.Unlock()
	if running {
		return nil
	}

	port, err := r.transport.Open()
	if err != nil {
		return fmt.Errorf("gps: start %s: %w", r.transport.Name(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &readerSession{
		ctx:    ctx,
		cancel: cancel,
		port:   port,
		events: make(chan nmea.Event, r.cfg.EventBuffer),
	}
	s.dec = nmea.NewDecoder(nmea.Config{
		Clock:          r.cfg.Clock,
		MinFixInterval: iv,
		Checksum:       r.cfg.Checksum,
	}, s.emit)
	s.dec.SetMinFixInterval(iv)

	r.mu.Lock()
	r.sess = s
	r.last = s.dec
	r.mu.Unlock()

	s.wg.Add(1)
	go r.readLoop(s)
	if r.handler != nil {
		s.wg.Add(1)
		go r.dispatch(s)
	}
	log.Printf("[gps] reader started on %s", r.transport.Name())
	return nil
}

// Stop ends the session and returns once no more callbacks can run.
// Stopping a stopped reader is a no-op.
func (r *Reader) Stop() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	s := r.sess
	r.sess = nil
	r.mu.Unlock()
	if s == nil {
		return
	}

	s.cancel()
	if err := s.port.Close(); err != nil {
		log.Printf("[gps] close %s: %v", r.transport.Name(), err)
	}
	s.wg.Wait()
	log.Printf("[gps] reader stopped on %s", r.transport.Name())
}

// Running reports whether a session is active.
func (r *Reader) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

// SetMinFixInterval changes the fix report gate. It applies immediately to
// a running session and is kept for later ones. Zero reports every
// qualifying fix.
func (r *Reader) SetMinFixInterval(iv time.Duration) {
	if iv < 0 {
		iv = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minFixInterval = iv
	if r.sess != nil {
		r.sess.dec.SetMinFixInterval(iv)
	}
}

// MinFixInterval returns the effective fix report gate.
func (r *Reader) MinFixInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minFixInterval
}

// Events returns the current session's event channel. It is nil when the
// reader is stopped or was built with a Handler. The channel is closed when
// the session ends.
func (r *Reader) Events() <-chan nmea.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil || r.handler != nil {
		return nil
	}
	return r.sess.events
}

// Fix returns the latest aggregated fix of the current or last session.
func (r *Reader) Fix() nmea.Fix {
	r.mu.Lock()
	dec := r.last
	r.mu.Unlock()
	if dec == nil {
		return nmea.Fix{}
	}
	return dec.Fix()
}

// Satellites returns the satellite table of the current or last session.
func (r *Reader) Satellites() []nmea.Satellite {
	r.mu.Lock()
	dec := r.last
	r.mu.Unlock()
	if dec == nil {
		return nil
	}
	return dec.Satellites()
}

func (r *Reader) readLoop(s *readerSession) {
	defer s.wg.Done()
	defer close(s.events)

	buf := make([]byte, readBufferSize)
	for {
		if s.ctx.Err() != nil {
			return
		}
		n, err := s.port.Read(buf)
		if s.ctx.Err() != nil {
			return
		}
		if n > 0 {
			s.dec.Write(buf[:n])
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			log.Printf("[gps] %s: end of stream", r.transport.Name())
			<-s.ctx.Done()
			return
		}
		log.Printf("[gps] read error on %s: %v (retry in %v)", r.transport.Name(), err, r.cfg.RetryBackoff)
		select {
		case <-s.ctx.Done():
			return
		case <-r.cfg.Clock.After(r.cfg.RetryBackoff):
		}
	}
}

func (r *Reader) dispatch(s *readerSession) {
	defer s.wg.Done()
	for ev := range s.events {
		if s.ctx.Err() != nil {
			continue
		}
		Deliver(r.handler, ev)
	}
}

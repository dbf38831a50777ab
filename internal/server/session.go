package server

import (
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/gnssd/internal/gps"
	"github.com/shaunagostinho/gnssd/internal/nmea"
)

// CapabilityScheduling means the client may set the fix report interval.
const CapabilityScheduling = "scheduling"

// SystemInfo identifies the hardware to registered clients.
type SystemInfo struct {
	Name string `json:"name"`
	Year int    `json:"year"`
}

// Status marks session boundaries.
type Status string

const (
	StatusSessionBegin Status = "session_begin"
	StatusSessionEnd   Status = "session_end"
)

// Extensions a GNSS client may ask for. None are implemented.
var extensions = map[string]bool{
	"agnss":                   false,
	"antenna_info":            false,
	"batching":                false,
	"configuration":           false,
	"debug":                   false,
	"geofence":                false,
	"measurement":             false,
	"measurement_corrections": false,
	"navigation_message":      false,
	"power_indication":        false,
	"psds":                    false,
	"visibility_control":      false,
	"xtra":                    false,
}

// Extension reports whether name is a known extension and whether it is
// supported.
func Extension(name string) (supported, known bool) {
	supported, known = extensions[name]
	return supported, known
}

// Callback receives everything a session produces.
type Callback interface {
	gps.Handler
	HandleCapabilities(caps []string)
	HandleSystemInfo(info SystemInfo)
	HandleStatus(status Status)
}

// TransportFactory builds the transport for a new session.
type TransportFactory func() (gps.Transport, error)

// Session is the client-facing GNSS interface. Every Start builds a fresh
// reader, so no decode state survives a Stop.
type Session struct {
	cfg     *Config
	factory TransportFactory

	mu          sync.Mutex
	reader      *gps.Reader
	last        *gps.Reader
	minInterval time.Duration // from SetPositionMode
	modeSet     bool          // minInterval overrides the config value

	cbMu sync.RWMutex
	cb   Callback
}

// NewSession creates a stopped session.
func NewSession(cfg *Config, factory TransportFactory) *Session {
	return &Session{cfg: cfg, factory: factory}
}

// SetCallback registers cb, or clears the registration when cb is nil.
// A new callback is told the capabilities and system info before any
// other event reaches it.
func (s *Session) SetCallback(cb Callback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.cb = cb
	if cb == nil {
		return
	}
	cb.HandleCapabilities([]string{CapabilityScheduling})
	cb.HandleSystemInfo(s.cfg.SystemInfo())
}

// Start opens the transport and begins decoding. Starting a running session
// is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return nil
	}

	t, err := s.factory()
	if err != nil {
		return err
	}
	r := gps.NewReader(s.cfg.Reader(), t, s)
	r.SetMinFixInterval(s.intervalLocked())
	if err := r.Start(); err != nil {
		return err
	}
	s.reader = r
	s.last = r
	log.Printf("[session] started on %s", r.Name())
	s.HandleStatus(StatusSessionBegin)
	return nil
}

// Stop ends the session. No callbacks from its reader run after Stop
// returns.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return
	}
	s.reader.Stop()
	s.reader = nil
	log.Printf("[session] stopped")
	s.HandleStatus(StatusSessionEnd)
}

// Close stops the session and drops the callback.
func (s *Session) Close() {
	s.Stop()
	s.SetCallback(nil)
}

// Running reports whether a session is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader != nil
}

// SetPositionMode sets the minimum fix interval for the running session and
// for later ones.
func (s *Session) SetPositionMode(minInterval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if minInterval < 0 {
		minInterval = 0
	}
	s.minInterval = minInterval
	s.modeSet = true
	if s.reader != nil {
		s.reader.SetMinFixInterval(minInterval)
	}
}

// MinFixInterval returns the interval the next or current session uses.
func (s *Session) MinFixInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return s.reader.MinFixInterval()
	}
	return s.intervalLocked()
}

// intervalLocked picks the position mode if one was set, else the config.
// s.mu must be held.
func (s *Session) intervalLocked() time.Duration {
	if s.modeSet {
		return s.minInterval
	}
	return s.cfg.MinFixInterval()
}

// Fix returns the latest fix of the current or last session.
func (s *Session) Fix() nmea.Fix {
	s.mu.Lock()
	r := s.last
	s.mu.Unlock()
	if r == nil {
		return nmea.Fix{}
	}
	return r.Fix()
}

// Satellites returns the satellite table of the current or last session.
func (s *Session) Satellites() []nmea.Satellite {
	s.mu.Lock()
	r := s.last
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.Satellites()
}

func (s *Session) HandleFix(fix nmea.Fix) {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	if s.cb != nil {
		s.cb.HandleFix(fix)
	}
}

func (s *Session) HandleSentence(ts int64, sentence string) {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	if s.cb != nil {
		s.cb.HandleSentence(ts, sentence)
	}
}

func (s *Session) HandleSatellites(sats []nmea.Satellite) {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	if s.cb != nil {
		s.cb.HandleSatellites(sats)
	}
}

func (s *Session) HandleStatus(status Status) {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	if s.cb != nil {
		s.cb.HandleStatus(status)
	}
}

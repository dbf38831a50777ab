package nmea

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultMinFixInterval = 1000 * time.Millisecond
	// SatelliteInterval is fixed and not configurable.
	SatelliteInterval = 1000 * time.Millisecond
)

// Scheduler holds the two independent report gates. The minimum fix interval
// may be changed from any goroutine; the gates themselves are only consulted
// by the decoding goroutine.
type Scheduler struct {
	clock          clock.Clock
	minFixInterval atomic.Int64 // ms

	lastFix        time.Time
	lastSatellites time.Time
}

// NewScheduler returns a scheduler using clk, or the wall clock if nil.
// A minFixInterval of zero or less selects DefaultMinFixInterval.
func NewScheduler(clk clock.Clock, minFixInterval time.Duration) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if minFixInterval <= 0 {
		minFixInterval = DefaultMinFixInterval
	}
	s := &Scheduler{clock: clk}
	s.SetMinFixInterval(minFixInterval)
	return s
}

// SetMinFixInterval applies to the next gate check. Zero reports every
// qualifying fix; negative values are treated as zero.
func (s *Scheduler) SetMinFixInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.minFixInterval.Store(d.Milliseconds())
}

// MinFixInterval returns the current fix interval.
func (s *Scheduler) MinFixInterval() time.Duration {
	return time.Duration(s.minFixInterval.Load()) * time.Millisecond
}

// NowMs returns the scheduler clock in Unix milliseconds.
func (s *Scheduler) NowMs() int64 { return s.clock.Now().UnixMilli() }

// FixDue reports whether a fix may be sent now and, if so, consumes the gate.
func (s *Scheduler) FixDue() (time.Time, bool) {
	now := s.clock.Now()
	if !s.lastFix.IsZero() && now.Sub(s.lastFix) < s.MinFixInterval() {
		return now, false
	}
	s.lastFix = now
	return now, true
}

// SatellitesDue reports whether the satellite window has elapsed and, if so,
// starts the next one.
func (s *Scheduler) SatellitesDue() (time.Time, bool) {
	now := s.clock.Now()
	if !s.lastSatellites.IsZero() && now.Sub(s.lastSatellites) < SatelliteInterval {
		return now, false
	}
	s.lastSatellites = now
	return now, true
}

package nmea

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Config configures a Decoder.
type Config struct {
	// Clock drives report gates and timestamps. Nil means the wall clock.
	Clock          clock.Clock
	MinFixInterval time.Duration
	Checksum       ChecksumPolicy
}

// Decoder turns a raw NMEA byte stream into fix, satellite and sentence
// events. Write and Process must be called from a single goroutine; the
// snapshot accessors and SetMinFixInterval are safe from any goroutine.
type Decoder struct {
	framer   Framer
	fix      FixAggregator
	sats     *SatelliteTable
	sched    *Scheduler
	checksum ChecksumPolicy
	emit     func(Event)
}

// NewDecoder returns a decoder that hands every event to emit.
func NewDecoder(cfg Config, emit func(Event)) *Decoder {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Decoder{
		sats:     NewSatelliteTable(),
		sched:    NewScheduler(cfg.Clock, cfg.MinFixInterval),
		checksum: cfg.Checksum,
		emit:     emit,
	}
}

// Write feeds transport bytes through the framer, then checks the satellite
// gate once for the whole chunk. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	for _, b := range p {
		if s, ok := d.framer.Push(b); ok {
			_ = d.Process(s)
		}
	}
	d.reportSatellites()
	return len(p), nil
}

// Process handles one framed sentence: raw event, parse, fix gate.
// The returned error describes why the sentence did not update state; it is
// informational only.
func (d *Decoder) Process(raw string) error {
	d.emit(Event{Kind: EventSentence, TimestampMs: d.sched.NowMs(), Sentence: raw})
	err := d.parse(raw)
	d.reportFix()
	return err
}

func (d *Decoder) parse(raw string) error {
	if d.checksum == ChecksumVerify {
		if err := VerifyChecksum(raw); err != nil {
			return err
		}
	}
	s, err := Tokenize(raw)
	if err != nil {
		return err
	}
	switch s.Type {
	case "GGA":
		return d.parseGGA(s)
	case "RMC":
		return d.parseRMC(s)
	case "GSV":
		return d.parseGSV(s)
	case "GSA":
		return d.parseGSA(s)
	case "VTG":
		return d.parseVTG(s)
	}
	return nil
}

func (d *Decoder) reportFix() {
	if !d.fix.Valid() {
		return
	}
	now, ok := d.sched.FixDue()
	if !ok {
		return
	}
	nowMs := now.UnixMilli()
	d.emit(Event{Kind: EventFix, TimestampMs: nowMs, Fix: d.fix.Stamp(nowMs)})
}

func (d *Decoder) reportSatellites() {
	now, ok := d.sched.SatellitesDue()
	if !ok {
		return
	}
	sats := d.sats.Snapshot()
	if len(sats) == 0 {
		return
	}
	d.emit(Event{Kind: EventSatellites, TimestampMs: now.UnixMilli(), Satellites: sats})
}

// SetMinFixInterval changes the fix gate for subsequent checks. Zero reports
// every qualifying fix.
func (d *Decoder) SetMinFixInterval(iv time.Duration) { d.sched.SetMinFixInterval(iv) }

// MinFixInterval returns the fix gate interval.
func (d *Decoder) MinFixInterval() time.Duration { return d.sched.MinFixInterval() }

// Fix returns the current fix without blocking on satellite state.
func (d *Decoder) Fix() Fix { return d.fix.Snapshot() }

// Satellites returns the visibility table without blocking on fix state.
func (d *Decoder) Satellites() []Satellite { return d.sats.Snapshot() }

// UsedSatelliteIDs returns the IDs accumulated since the last active RMC.
func (d *Decoder) UsedSatelliteIDs() []int { return d.sats.UsedIDs() }

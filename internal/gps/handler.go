package gps

import "github.com/shaunagostinho/gnssd/internal/nmea"

// Handler receives decoded output. Calls are made serially from the reader's
// dispatch goroutine; an implementation must not call Reader.Stop from
// inside a callback.
type Handler interface {
	HandleFix(fix nmea.Fix)
	HandleSentence(timestampMs int64, sentence string)
	HandleSatellites(sats []nmea.Satellite)
}

// Callbacks adapts plain functions to Handler. Nil fields are skipped.
type Callbacks struct {
	OnFix            func(nmea.Fix)
	OnRawSentence    func(timestampMs int64, sentence string)
	OnSatelliteTable func([]nmea.Satellite)
}

func (c Callbacks) HandleFix(fix nmea.Fix) {
	if c.OnFix != nil {
		c.OnFix(fix)
	}
}

func (c Callbacks) HandleSentence(ts int64, s string) {
	if c.OnRawSentence != nil {
		c.OnRawSentence(ts, s)
	}
}

func (c Callbacks) HandleSatellites(sats []nmea.Satellite) {
	if c.OnSatelliteTable != nil {
		c.OnSatelliteTable(sats)
	}
}

// Handlers fans every event out to each handler in order.
type Handlers []Handler

func (hs Handlers) HandleFix(fix nmea.Fix) {
	for _, h := range hs {
		h.HandleFix(fix)
	}
}

func (hs Handlers) HandleSentence(ts int64, s string) {
	for _, h := range hs {
		h.HandleSentence(ts, s)
	}
}

func (hs Handlers) HandleSatellites(sats []nmea.Satellite) {
	for _, h := range hs {
		h.HandleSatellites(sats)
	}
}

// Deliver routes one event to the matching Handler method.
func Deliver(h Handler, ev nmea.Event) {
	switch ev.Kind {
	case nmea.EventFix:
		h.HandleFix(ev.Fix)
	case nmea.EventSentence:
		h.HandleSentence(ev.TimestampMs, ev.Sentence)
	case nmea.EventSatellites:
		h.HandleSatellites(ev.Satellites)
	}
}

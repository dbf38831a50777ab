package nmea

import (
	"sort"
	"sync"
)

// FixAggregator owns the best-known fix. All access goes through its lock.
type FixAggregator struct {
	mu  sync.Mutex
	fix Fix
}

// Update runs fn with exclusive access to the fix. fn may return an error
// after a partial write; the partial write is kept.
func (a *FixAggregator) Update(fn func(f *Fix) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(&a.fix)
}

// Snapshot returns a copy of the current fix.
func (a *FixAggregator) Snapshot() Fix {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fix
}

// Valid reports whether the most recent GGA carried a fix.
func (a *FixAggregator) Valid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fix.Valid
}

// Stamp records the report time on the fix and returns the stamped copy.
func (a *FixAggregator) Stamp(nowMs int64) Fix {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fix.TimestampMs = nowMs
	a.fix.ElapsedRealtime = ElapsedRealtime{
		Flags:             HasTimestampNs | HasTimeUncertaintyNs,
		TimestampNs:       nowMs * 1_000_000,
		TimeUncertaintyNs: 1_000_000,
	}
	return a.fix
}

type satKey struct {
	constellation Constellation
	id            int
}

// SatelliteTable owns the visibility table and the used-in-fix ID list.
// Entries only grow or update for the life of the table.
type SatelliteTable struct {
	mu      sync.Mutex
	entries map[satKey]Satellite
	used    []int
}

// NewSatelliteTable returns an empty table.
func NewSatelliteTable() *SatelliteTable {
	return &SatelliteTable{entries: make(map[satKey]Satellite)}
}

// ClearUsed starts a new fix cycle.
func (t *SatelliteTable) ClearUsed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used = t.used[:0]
}

// AddUsed appends ids to the used list and recomputes UsedInFix on every
// entry against the whole accumulated list.
func (t *SatelliteTable) AddUsed(ids []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used = append(t.used, ids...)
	for k, sv := range t.entries {
		sv.Flags &^= UsedInFix
		if t.isUsedLocked(sv.ID) {
			sv.Flags |= UsedInFix
		}
		t.entries[k] = sv
	}
}

// Upsert stores satellites by (constellation, ID), setting UsedInFix from the
// current used list.
func (t *SatelliteTable) Upsert(sats ...Satellite) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sv := range sats {
		if t.isUsedLocked(sv.ID) {
			sv.Flags |= UsedInFix
		}
		t.entries[satKey{sv.Constellation, sv.ID}] = sv
	}
}

func (t *SatelliteTable) isUsedLocked(id int) bool {
	for _, u := range t.used {
		if u == id {
			return true
		}
	}
	return false
}

// Len returns the number of satellites seen this session.
func (t *SatelliteTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns all entries ordered by constellation, then ID.
func (t *SatelliteTable) Snapshot() []Satellite {
	t.mu.Lock()
	out := make([]Satellite, 0, len(t.entries))
	for _, sv := range t.entries {
		out = append(out, sv)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Constellation != out[j].Constellation {
			return out[i].Constellation < out[j].Constellation
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UsedIDs returns a copy of the accumulated used-in-fix IDs.
func (t *SatelliteTable) UsedIDs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.used...)
}

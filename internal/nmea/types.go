package nmea

import (
	"fmt"
	"strings"
)

// FixFlags marks which optional fields of a Fix carry data.
type FixFlags uint16

const (
	HasLatLong FixFlags = 1 << iota
	HasAltitude
	HasSpeed
	HasBearing
	HasHorizontalAccuracy
)

// Realtime flags.
const (
	HasTimestampNs uint8 = 1 << iota
	HasTimeUncertaintyNs
)

// ElapsedRealtime is the nanosecond timestamp attached to a reported fix.
type ElapsedRealtime struct {
	Flags             uint8   `json:"flags"`
	TimestampNs       int64   `json:"timestampNs"`
	TimeUncertaintyNs float64 `json:"timeUncertaintyNs"`
}

// Fix is the accumulated navigation solution.
type Fix struct {
	Flags              FixFlags        `json:"flags"`
	Latitude           float64         `json:"latitude"`           // Decimal degrees
	Longitude          float64         `json:"longitude"`          // Decimal degrees
	Altitude           float64         `json:"altitude"`           // Meters
	Speed              float64         `json:"speed"`              // m/s
	Bearing            float64         `json:"bearing"`            // Degrees true
	HorizontalAccuracy float64         `json:"horizontalAccuracy"` // Meters
	Quality            int             `json:"quality"`            // GGA fix quality
	SatellitesUsed     int             `json:"satellitesUsed"`     // GGA satellite count
	TimestampMs        int64           `json:"timestampMs"`        // Unix ms at report time
	ElapsedRealtime    ElapsedRealtime `json:"elapsedRealtime"`
	Valid              bool            `json:"valid"`
}

// Has reports whether all of the given flags are set.
func (f Fix) Has(flags FixFlags) bool { return f.Flags&flags == flags }

// Constellation identifies a satellite system. Values follow the Android
// GnssConstellationType numbering.
type Constellation uint8

const (
	ConstellationUnknown Constellation = iota
	ConstellationGPS
	ConstellationSBAS
	ConstellationGLONASS
	ConstellationQZSS
	ConstellationBeiDou
	ConstellationGalileo
	ConstellationIRNSS
)

var constellationNames = [...]string{
	ConstellationUnknown: "UNKNOWN",
	ConstellationGPS:     "GPS",
	ConstellationSBAS:    "SBAS",
	ConstellationGLONASS: "GLONASS",
	ConstellationQZSS:    "QZSS",
	ConstellationBeiDou:  "BEIDOU",
	ConstellationGalileo: "GALILEO",
	ConstellationIRNSS:   "IRNSS",
}

func (c Constellation) String() string {
	if int(c) < len(constellationNames) {
		return constellationNames[c]
	}
	return fmt.Sprintf("Constellation(%d)", uint8(c))
}

func (c Constellation) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Constellation) UnmarshalText(b []byte) error {
	name := strings.ToUpper(string(b))
	for i, n := range constellationNames {
		if n == name {
			*c = Constellation(i)
			return nil
		}
	}
	return fmt.Errorf("nmea: unknown constellation %q", b)
}

// SatelliteFlags describe a satellite's signal state.
type SatelliteFlags uint8

const (
	HasCarrierFrequency SatelliteFlags = 1 << iota
	UsedInFix
)

// Satellite is one entry of the visibility table.
type Satellite struct {
	ID            int            `json:"id"`
	Constellation Constellation  `json:"constellation"`
	Elevation     float64        `json:"elevation"` // Degrees
	Azimuth       float64        `json:"azimuth"`   // Degrees
	CN0           float64        `json:"cn0"`       // dB-Hz
	BasebandCN0   float64        `json:"basebandCn0"`
	Flags         SatelliteFlags `json:"flags"`
}

// UsedInFix reports whether the satellite contributes to the active fix.
func (s Satellite) UsedInFix() bool { return s.Flags&UsedInFix != 0 }

// EventKind tells which payload of an Event is set.
type EventKind int

const (
	EventSentence EventKind = iota
	EventFix
	EventSatellites
)

func (k EventKind) String() string {
	switch k {
	case EventSentence:
		return "sentence"
	case EventFix:
		return "fix"
	case EventSatellites:
		return "satellites"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one notification produced by the Decoder.
type Event struct {
	Kind        EventKind
	TimestampMs int64
	Sentence    string
	Fix         Fix
	Satellites  []Satellite
}

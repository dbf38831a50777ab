package nmea

import (
	"fmt"
	"strconv"
	"strings"
)

// Unit conversions.
const (
	KnotsToMps = 0.514444
	KmhToMps   = 1 / 3.6
)

// floatField parses f[i]. ok is false for an empty field.
func floatField(f []string, i int) (v float64, ok bool, err error) {
	if i >= len(f) {
		return 0, false, nil
	}
	s := strings.TrimSpace(f[i])
	if s == "" {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: field %d %q", ErrMalformedField, i, s)
	}
	return v, true, nil
}

// intField parses f[i]. ok is false for an empty field.
func intField(f []string, i int) (v int, ok bool, err error) {
	if i >= len(f) {
		return 0, false, nil
	}
	s := strings.TrimSpace(f[i])
	if s == "" {
		return 0, false, nil
	}
	v, err = strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("%w: field %d %q", ErrMalformedField, i, s)
	}
	return v, true, nil
}

// hemisphere returns the first byte of f[i], or 0.
func hemisphere(f []string, i int) byte {
	if i >= len(f) {
		return 0
	}
	s := strings.TrimSpace(f[i])
	if s == "" {
		return 0
	}
	return s[0]
}

// ToDecimal converts an NMEA ddmm.mmmm (or dddmm.mmmm) coordinate to signed
// decimal degrees. 'S' and 'W' negate the result.
func ToDecimal(coord float64, dir byte) float64 {
	deg := float64(int(coord / 100))
	dec := deg + (coord-deg*100)/60.0
	if dir == 'S' || dir == 'W' {
		return -dec
	}
	return dec
}

// ConstellationFor maps a talker ID, and for the combined "GN" talker the
// satellite ID range, to a constellation.
func ConstellationFor(talker string, id int) Constellation {
	switch talker {
	case "GP":
		return ConstellationGPS
	case "GL":
		return ConstellationGLONASS
	case "GA":
		return ConstellationGalileo
	case "GB", "BD":
		return ConstellationBeiDou
	case "GQ", "QZ":
		return ConstellationQZSS
	case "GN":
		switch {
		case id >= 1 && id <= 32:
			return ConstellationGPS
		case id >= 65 && id <= 96:
			return ConstellationGLONASS
		case id >= 201 && id <= 237:
			return ConstellationBeiDou
		case id >= 301 && id <= 336:
			return ConstellationGalileo
		}
		return ConstellationGPS
	}
	return ConstellationUnknown
}

package nmea

import (
	"errors"
	"fmt"
	"strings"

	gonmea "github.com/adrianmo/go-nmea"
)

var (
	ErrShortSentence  = errors.New("nmea: insufficient fields")
	ErrMalformedField = errors.New("nmea: malformed field")
	ErrChecksum       = errors.New("nmea: checksum mismatch")
	ErrNoFix          = errors.New("nmea: no fix")
	ErrInactive       = errors.New("nmea: status not active")
)

// Sentence is a tokenized NMEA sentence.
type Sentence struct {
	Raw    string
	Talker string // e.g. "GP", "GN"
	Type   string // e.g. "GGA"
	// Fields is the comma-split body. Fields[0] is the address field; the
	// checksum is never part of the last field.
	Fields      []string
	Checksum    string
	HasChecksum bool
}

// Tokenize splits a framed sentence ("$GPGGA,...*hh") into fields.
func Tokenize(raw string) (Sentence, error) {
	body := strings.TrimRight(raw, "\r\n")
	body = strings.TrimPrefix(body, "$")
	s := Sentence{Raw: raw}
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		s.Checksum = strings.TrimSpace(body[star+1:])
		s.HasChecksum = true
		body = body[:star]
	}
	s.Fields = strings.Split(body, ",")
	addr := s.Fields[0]
	if len(addr) < 5 {
		return s, fmt.Errorf("%w: address %q", ErrMalformedField, addr)
	}
	s.Talker = addr[:2]
	s.Type = strings.ToUpper(addr[len(addr)-3:])
	return s, nil
}

// ChecksumPolicy selects how sentence checksums are treated.
type ChecksumPolicy int

const (
	// ChecksumIgnore parses every framed sentence.
	ChecksumIgnore ChecksumPolicy = iota
	// ChecksumVerify drops sentences with a missing or wrong checksum.
	ChecksumVerify
)

// ParseChecksumPolicy accepts "ignore" (or empty) and "verify".
func ParseChecksumPolicy(s string) (ChecksumPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return ChecksumIgnore, nil
	case "verify":
		return ChecksumVerify, nil
	default:
		return ChecksumIgnore, fmt.Errorf("nmea: unknown checksum policy %q", s)
	}
}

func (p ChecksumPolicy) String() string {
	if p == ChecksumVerify {
		return "verify"
	}
	return "ignore"
}

// VerifyChecksum checks the XOR checksum between '$' and '*'.
func VerifyChecksum(raw string) error {
	raw = strings.TrimRight(raw, "\r\n")
	star := strings.LastIndexByte(raw, '*')
	if !strings.HasPrefix(raw, "$") || star < 0 {
		return fmt.Errorf("%w: missing checksum", ErrChecksum)
	}
	got := strings.TrimSpace(raw[star+1:])
	want := gonmea.Checksum(raw[1:star])
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: got %s want %s", ErrChecksum, got, want)
	}
	return nil
}

// AppendChecksum turns a sentence body ("GPGGA,...") into a framed sentence
// without line terminator.
func AppendChecksum(body string) string {
	return "$" + body + "*" + gonmea.Checksum(body)
}

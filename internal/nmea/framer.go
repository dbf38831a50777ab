package nmea

const (
	// MaxSentenceLen bounds the framing buffer, terminator included.
	MaxSentenceLen = 256
	// MinSentenceLen is the shortest sentence, terminator included, that is
	// passed on. Anything shorter is line noise.
	MinSentenceLen = 11
)

// Framer rebuilds '$'-delimited sentences from a byte stream.
// The zero value is ready to use. A Framer is not safe for concurrent use.
type Framer struct {
	buf     [MaxSentenceLen - 1]byte
	n       int
	started bool
}

// Push consumes one byte and returns a complete sentence, without its line
// terminator, when b ends one.
func (f *Framer) Push(b byte) (string, bool) {
	switch b {
	case '$':
		// A new start marker always wins; whatever was pending is a fragment.
		f.n = 0
		f.started = true
	case '\r', '\n':
		n, started := f.n, f.started
		f.n = 0
		f.started = false
		if !started || n+1 < MinSentenceLen {
			return "", false
		}
		return string(f.buf[:n]), true
	}
	if !f.started {
		return "", false
	}
	// Overflow is truncated, not rejected: the sentence is still emitted at
	// its terminator with whatever fit.
	if f.n < len(f.buf) {
		f.buf[f.n] = b
		f.n++
	}
	return "", false
}

// Reset drops any partially framed sentence.
func (f *Framer) Reset() {
	f.n = 0
	f.started = false
}

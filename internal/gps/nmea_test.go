package gps

import (
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaunagostinho/gnssd/internal/nmea"
)

const (
	testGGA = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"
	testRMC = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n"
	testGSV = "$GPGSV,2,1,08,01,40,083,46,02,17,308,41,12,07,344,39,14,22,228,45*75\r\n"
)

// pipeTransport hands the test the write end of every stream it opens.
type pipeTransport struct {
	openErr error
	writers chan *io.PipeWriter
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{writers: make(chan *io.PipeWriter, 4)}
}

func (p *pipeTransport) Name() string { return "pipe" }

func (p *pipeTransport) Open() (io.ReadCloser, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	pr, pw := io.Pipe()
	p.writers <- pw
	return pr, nil
}

func (p *pipeTransport) writer(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case w := <-p.writers:
		return w
	case <-time.After(time.Second):
		t.Fatal("transport was not opened")
		return nil
	}
}

type chanHandler struct {
	fixes     chan nmea.Fix
	sentences chan string
	sats      chan []nmea.Satellite
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		fixes:     make(chan nmea.Fix, 64),
		sentences: make(chan string, 64),
		sats:      make(chan []nmea.Satellite, 64),
	}
}

func (h *chanHandler) HandleFix(f nmea.Fix)                { h.fixes <- f }
func (h *chanHandler) HandleSentence(_ int64, s string)    { h.sentences <- s }
func (h *chanHandler) HandleSatellites(s []nmea.Satellite) { h.sats <- s }

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func TestReaderDeliversToHandler(t *testing.T) {
	tr := newPipeTransport()
	h := newChanHandler()
	r := NewReader(ReaderConfig{}, tr, h)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	w := tr.writer(t)
	go io.WriteString(w, testGGA+testRMC+testGSV)

	if s := recv(t, h.sentences); !strings.HasPrefix(s, "$GPGGA") {
		t.Fatalf("first sentence = %q", s)
	}
	fix := recv(t, h.fixes)
	if !fix.Valid || math.Abs(fix.Latitude-48.1173) > 1e-4 {
		t.Fatalf("unexpected fix %+v", fix)
	}
	sats := recv(t, h.sats)
	if len(sats) != 4 {
		t.Fatalf("got %d satellites, want 4", len(sats))
	}
	if got := r.Fix(); !got.Valid {
		t.Fatalf("Fix() not valid after delivery")
	}
}

func TestReaderStopUnblocksPendingRead(t *testing.T) {
	tr := newPipeTransport()
	r := NewReader(ReaderConfig{}, tr, newChanHandler())
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	tr.writer(t)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a read was blocked")
	}
	if r.Running() {
		t.Fatal("reader still running after Stop")
	}
}

func TestReaderNoCallbacksAfterStop(t *testing.T) {
	tr := newPipeTransport()
	var calls atomic.Int64
	r := NewReader(ReaderConfig{}, tr, Callbacks{
		OnRawSentence: func(int64, string) { calls.Add(1) },
	})
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	w := tr.writer(t)
	if _, err := io.WriteString(w, testGGA); err != nil {
		t.Fatalf("write: %v", err)
	}
	r.Stop()

	before := calls.Load()
	if _, err := io.WriteString(w, testRMC); err == nil {
		t.Fatal("write after Stop should fail on a closed stream")
	}
	time.Sleep(20 * time.Millisecond)
	if after := calls.Load(); after != before {
		t.Fatalf("callbacks after Stop: %d -> %d", before, after)
	}
}

func TestReaderStartIsIdempotent(t *testing.T) {
	tr := newPipeTransport()
	r := NewReader(ReaderConfig{}, tr, newChanHandler())
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if n := len(tr.writers); n != 1 {
		t.Fatalf("transport opened %d times, want 1", n)
	}
	r.Stop()
	r.Stop()
}

func TestReaderOpenFailure(t *testing.T) {
	tr := newPipeTransport()
	tr.openErr = errors.New("no such device")
	r := NewReader(ReaderConfig{}, tr, nil)
	err := r.Start()
	if err == nil || !errors.Is(err, tr.openErr) {
		t.Fatalf("Start error = %v, want wrapped open error", err)
	}
	if r.Running() {
		t.Fatal("reader running after failed Start")
	}
	r.Stop()
}

// flakyStream fails its first read, then serves data.
type flakyStream struct {
	mu     sync.Mutex
	failed bool
	data   io.Reader
	closed chan struct{}
	once   sync.Once
}

func (f *flakyStream) Read(p []byte) (int, error) {
	f.mu.Lock()
	if !f.failed {
		f.failed = true
		f.mu.Unlock()
		return 0, errors.New("framing error")
	}
	f.mu.Unlock()
	n, err := f.data.Read(p)
	if errors.Is(err, io.EOF) {
		<-f.closed
		return 0, io.ErrClosedPipe
	}
	return n, err
}

func (f *flakyStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type flakyTransport struct{ stream *flakyStream }

func (f flakyTransport) Name() string                 { return "flaky" }
func (f flakyTransport) Open() (io.ReadCloser, error) { return f.stream, nil }

func TestReaderRetriesAfterReadError(t *testing.T) {
	stream := &flakyStream{data: strings.NewReader(testGGA), closed: make(chan struct{})}
	h := newChanHandler()
	r := NewReader(ReaderConfig{RetryBackoff: time.Millisecond}, flakyTransport{stream}, h)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	if s := recv(t, h.sentences); !strings.HasPrefix(s, "$GPGGA") {
		t.Fatalf("sentence after retry = %q", s)
	}
}

func TestReaderEventsChannel(t *testing.T) {
	tr := newPipeTransport()
	r := NewReader(ReaderConfig{EventBuffer: 4}, tr, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	events := r.Events()
	if events == nil {
		t.Fatal("Events() = nil for reader without handler")
	}
	w := tr.writer(t)
	go io.WriteString(w, testGGA)

	ev := recv(t, events)
	if ev.Kind != nmea.EventSentence {
		t.Fatalf("first event kind = %v", ev.Kind)
	}
	ev = recv(t, events)
	if ev.Kind != nmea.EventFix || !ev.Fix.Valid {
		t.Fatalf("second event = %+v", ev)
	}

	r.Stop()
	for range events {
	}
	if r.Events() != nil {
		t.Fatal("Events() not nil after Stop")
	}
}

func TestReaderMinFixIntervalCarriesAcrossSessions(t *testing.T) {
	tr := newPipeTransport()
	r := NewReader(ReaderConfig{}, tr, newChanHandler())
	if got := r.MinFixInterval(); got != nmea.DefaultMinFixInterval {
		t.Fatalf("default interval = %v", got)
	}
	r.SetMinFixInterval(5 * time.Second)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := r.MinFixInterval(); got != 5*time.Second {
		t.Fatalf("interval in session = %v", got)
	}
	r.SetMinFixInterval(250 * time.Millisecond)
	r.Stop()

	if err := r.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer r.Stop()
	if got := r.MinFixInterval(); got != 250*time.Millisecond {
		t.Fatalf("interval after restart = %v", got)
	}
	r.SetMinFixInterval(0)
	if got := r.MinFixInterval(); got != 0 {
		t.Fatalf("zero interval became %v", got)
	}
}

func TestReaderRestartResetsState(t *testing.T) {
	tr := newPipeTransport()
	h := newChanHandler()
	r := NewReader(ReaderConfig{}, tr, h)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	w := tr.writer(t)
	go io.WriteString(w, testGGA)
	recv(t, h.fixes)
	r.Stop()

	if !r.Fix().Valid {
		t.Fatal("last session fix should stay readable after Stop")
	}
	if err := r.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer r.Stop()
	tr.writer(t)
	if r.Fix().Valid {
		t.Fatal("new session should start without a fix")
	}
}

package gps

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shaunagostinho/gnssd/internal/nmea"
)

// DemoTransport generates simulated NMEA output for testing without a
// receiver attached: one GGA, RMC, VTG, GSA and GSV burst per interval.
type DemoTransport struct {
	clock    clock.Clock
	interval time.Duration
}

// NewDemo creates a demo transport. A nil clock uses the wall clock.
func NewDemo(clk clock.Clock, interval time.Duration) *DemoTransport {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &DemoTransport{clock: clk, interval: interval}
}

func (d *DemoTransport) Name() string { return "Demo GPS (Simulated)" }

// Open starts a generator writing into a pipe. The first burst is available
// immediately; later ones follow on the interval ticker.
func (d *DemoTransport) Open() (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	s := &demoStream{pr: pr, done: make(chan struct{})}
	start := d.clock.Now()
	go func() {
		defer pw.Close()
		ticker := d.clock.Ticker(d.interval)
		defer ticker.Stop()
		for {
			now := d.clock.Now()
			t := now.Sub(start).Seconds()
			if _, err := io.WriteString(pw, demoBurst(now.UTC(), t)); err != nil {
				return
			}
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
	return s, nil
}

type demoStream struct {
	pr   *io.PipeReader
	done chan struct{}
	once sync.Once
}

func (s *demoStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *demoStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.pr.Close()
}

type demoSat struct {
	id        int
	elevation int
	azimuth   int
	cn0       int
}

var (
	demoGPS = []demoSat{
		{2, 62, 45, 44}, {5, 38, 110, 40}, {12, 71, 210, 46}, {15, 24, 300, 35},
		{18, 15, 170, 0}, {25, 49, 80, 42},
	}
	demoGLONASS = []demoSat{
		{66, 33, 20, 38}, {67, 58, 95, 41}, {75, 20, 260, 33}, {81, 44, 320, 39},
	}
)

// demoBurst renders one second of receiver output at simulated time t.
func demoBurst(now time.Time, t float64) string {
	// Simulate driving in a circle around a point
	centerLat := 43.6532 // Toronto
	centerLon := -79.3832
	radius := 0.005 // ~500m

	lat := centerLat + radius*math.Sin(t*0.1)
	lon := centerLon + radius*math.Cos(t*0.1)
	kmh := 50 + 30*math.Sin(t*0.3)
	knots := kmh / 1.852
	heading := math.Mod(t*10, 360)

	hms := now.Format("150405.00")
	dmy := now.Format("020106")
	latS, ns := formatCoord(lat, 2, 'N', 'S')
	lonS, ew := formatCoord(lon, 3, 'E', 'W')

	var b strings.Builder
	line := func(body string) {
		b.WriteString(nmea.AppendChecksum(body))
		b.WriteString("\r\n")
	}
	line(fmt.Sprintf("GNGGA,%s,%s,%c,%s,%c,1,%02d,0.8,76.0,M,-35.0,M,,", hms, latS, ns, lonS, ew, len(demoGPS)+len(demoGLONASS)))
	line(fmt.Sprintf("GNRMC,%s,A,%s,%c,%s,%c,%.3f,%.2f,%s,,,A", hms, latS, ns, lonS, ew, knots, heading, dmy))
	line(fmt.Sprintf("GNVTG,%.2f,T,,M,%.3f,N,%.3f,K,A", heading, knots, kmh))
	line(gsaBody(demoGPS, 1))
	line(gsaBody(demoGLONASS, 2))
	for _, body := range gsvBodies("GP", demoGPS, t) {
		line(body)
	}
	for _, body := range gsvBodies("GL", demoGLONASS, t) {
		line(body)
	}
	return b.String()
}

// formatCoord renders decimal degrees as NMEA ddmm.mmmm (or dddmm.mmmm).
func formatCoord(deg float64, width int, pos, neg byte) (string, byte) {
	dir := pos
	if deg < 0 {
		dir = neg
		deg = -deg
	}
	whole := math.Floor(deg)
	minutes := (deg - whole) * 60
	return fmt.Sprintf("%0*d%07.4f", width, int(whole), minutes), dir
}

func gsaBody(sats []demoSat, systemID int) string {
	ids := make([]string, 12)
	for i, s := range sats {
		if i == len(ids) {
			break
		}
		if s.cn0 > 0 {
			ids[i] = fmt.Sprintf("%02d", s.id)
		}
	}
	return fmt.Sprintf("GNGSA,A,3,%s,1.4,0.8,1.1,%d", strings.Join(ids, ","), systemID)
}

func gsvBodies(talker string, sats []demoSat, t float64) []string {
	total := (len(sats) + 3) / 4
	var out []string
	for msg := 0; msg < total; msg++ {
		var b strings.Builder
		fmt.Fprintf(&b, "%sGSV,%d,%d,%02d", talker, total, msg+1, len(sats))
		for i := msg * 4; i < len(sats) && i < msg*4+4; i++ {
			s := sats[i]
			cn0 := ""
			if s.cn0 > 0 {
				// Wobble a few dB so the signal bars move.
				cn0 = fmt.Sprintf("%02d", s.cn0+int(2*math.Sin(t+float64(s.id))))
			}
			fmt.Fprintf(&b, ",%02d,%02d,%03d,%s", s.id, s.elevation, s.azimuth, cn0)
		}
		out = append(out, b.String())
	}
	return out
}

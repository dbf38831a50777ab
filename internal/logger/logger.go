package logger

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shaunagostinho/gnssd/internal/nmea"
)

// Logger records fixes to CSV files with automatic rotation, and optionally
// captures the raw sentence stream to a .nmea file that the replay driver
// can play back.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	raw      bool
	closed   bool
	clock    clock.Clock

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int

	rawFile   *os.File
	rawWriter *bufio.Writer

	satsInView int
	satsUsed   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
	RawNMEA    bool   `yaml:"raw_nmea" json:"rawNmea"`

	Clock clock.Clock `yaml:"-" json:"-"`
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~28 hrs at 1 Hz)
)

var csvHeader = []string{
	"timestamp", "fix_time_ms", "valid", "quality",
	"lat", "lon", "alt_m", "speed_mps", "bearing_deg",
	"accuracy_m", "sats_used", "sats_in_view", "sats_flagged",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/gnssd"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 50*time.Millisecond {
		interval = time.Second // Default 1 Hz, the usual receiver rate
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		raw:      cfg.RawNMEA,
		clock:    cfg.Clock,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on && !l.closed
	if !on {
		l.closeFiles()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled && !l.closed
}

// HandleFix writes a CSV row if the minimum interval has elapsed.
func (l *Logger) HandleFix(fix nmea.Fix) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || l.closed {
		return
	}

	now := l.clock.Now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	// Open/rotate file if needed
	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	row := l.buildRow(now, fix)
	if err := l.writer.Write(row); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// HandleSentence appends the sentence to the raw capture when enabled.
func (l *Logger) HandleSentence(_ int64, sentence string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || !l.raw || l.closed {
		return
	}
	if l.rawWriter == nil {
		if err := l.openRaw(l.clock.Now()); err != nil {
			log.Printf("[logger] raw capture failed: %v", err)
			return
		}
	}
	l.rawWriter.WriteString(sentence)
	l.rawWriter.WriteString("\r\n")
}

// HandleSatellites keeps the counts written with the next fix row.
func (l *Logger) HandleSatellites(sats []nmea.Satellite) {
	used := 0
	for _, s := range sats {
		if s.UsedInFix() {
			used++
		}
	}
	l.mu.Lock()
	l.satsInView = len(sats)
	l.satsUsed = used
	l.mu.Unlock()
}

// Close flushes and closes the current log files. Later fixes and
// sentences are dropped.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.closeFiles()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeCSV()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("gnss_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := openAppend(path)
	if err != nil {
		return err
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	// Write header unless reopening a file from the same second
	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		if err := l.writer.Write(csvHeader); err != nil {
			return err
		}
		l.writer.Flush()
	}

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) openRaw(now time.Time) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}
	path := filepath.Join(l.dir, fmt.Sprintf("gnss_%s.nmea", now.Format("2006-01-02_150405")))
	f, err := openAppend(path)
	if err != nil {
		return err
	}
	l.rawFile = f
	l.rawWriter = bufio.NewWriter(f)
	log.Printf("[logger] capturing raw NMEA to %s", path)
	return nil
}

// openAppend never truncates: a file name is only unique to the second.
func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func (l *Logger) closeCSV() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func (l *Logger) closeFiles() {
	l.closeCSV()
	if l.rawWriter != nil {
		l.rawWriter.Flush()
		l.rawWriter = nil
	}
	if l.rawFile != nil {
		l.rawFile.Close()
		l.rawFile = nil
	}
}

func (l *Logger) buildRow(ts time.Time, f nmea.Fix) []string {
	row := make([]string, len(csvHeader))

	row[0] = ts.Format(time.RFC3339Nano)
	row[1] = strconv.FormatInt(f.TimestampMs, 10)
	row[2] = boolStr(f.Valid)
	row[3] = strconv.Itoa(f.Quality)
	if f.Has(nmea.HasLatLong) {
		row[4] = fmt.Sprintf("%.6f", f.Latitude)
		row[5] = fmt.Sprintf("%.6f", f.Longitude)
	}
	if f.Has(nmea.HasAltitude) {
		row[6] = fmt.Sprintf("%.1f", f.Altitude)
	}
	if f.Has(nmea.HasSpeed) {
		row[7] = fmt.Sprintf("%.2f", f.Speed)
	}
	if f.Has(nmea.HasBearing) {
		row[8] = fmt.Sprintf("%.1f", f.Bearing)
	}
	if f.Has(nmea.HasHorizontalAccuracy) {
		row[9] = fmt.Sprintf("%.1f", f.HorizontalAccuracy)
	}
	row[10] = strconv.Itoa(f.SatellitesUsed)
	row[11] = strconv.Itoa(l.satsInView)
	row[12] = strconv.Itoa(l.satsUsed)

	return row
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"github.com/shaunagostinho/gnssd/internal/nmea"
)

func newTestLogger(t *testing.T, raw bool) (*Logger, *clock.Mock, string) {
	t.Helper()
	dir := t.TempDir()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 23, 12, 35, 19, 0, time.UTC))
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 1000, RawNMEA: raw, Clock: mock})
	t.Cleanup(l.Close)
	return l, mock, dir
}

func readCSV(t *testing.T, dir string) [][]string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "gnss_*.csv"))
	if err != nil || len(files) != 1 {
		t.Fatalf("csv files = %v (%v)", files, err)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestLoggerWritesRowsAtInterval(t *testing.T) {
	l, mock, dir := newTestLogger(t, false)

	l.HandleSatellites([]nmea.Satellite{{ID: 4, Flags: nmea.UsedInFix}, {ID: 9}})
	fix := nmea.Fix{
		Flags:          nmea.HasLatLong | nmea.HasAltitude,
		Latitude:       48.1173,
		Longitude:      11.516667,
		Altitude:       545.4,
		Quality:        1,
		SatellitesUsed: 8,
		TimestampMs:    1711197319000,
		Valid:          true,
	}
	l.HandleFix(fix)
	mock.Add(500 * time.Millisecond)
	l.HandleFix(fix) // inside the interval, dropped
	mock.Add(600 * time.Millisecond)
	l.HandleFix(fix)
	l.Close()

	rows := readCSV(t, dir)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if diff := cmp.Diff(csvHeader, rows[0]); diff != "" {
		t.Fatalf("header (-want +got):\n%s", diff)
	}
	want := []string{
		"2024-03-23T12:35:19Z", "1711197319000", "1", "1",
		"48.117300", "11.516667", "545.4", "", "",
		"", "8", "2", "1",
	}
	if diff := cmp.Diff(want, rows[1]); diff != "" {
		t.Fatalf("row (-want +got):\n%s", diff)
	}
}

func TestLoggerDisabled(t *testing.T) {
	l, _, dir := newTestLogger(t, true)
	l.SetEnabled(false)
	if l.IsEnabled() {
		t.Fatal("still enabled")
	}
	l.HandleFix(nmea.Fix{Valid: true})
	l.HandleSentence(0, "$GPGGA")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("disabled logger created %d files", len(entries))
	}
}

func TestLoggerRawCapture(t *testing.T) {
	l, _, dir := newTestLogger(t, true)
	l.HandleSentence(0, "$GPGGA,1*00")
	l.HandleSentence(0, "$GPRMC,2*00")
	l.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "gnss_*.nmea"))
	if len(files) != 1 {
		t.Fatalf("raw files = %v", files)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Split(strings.TrimSpace(string(data)), "\r\n")
	if diff := cmp.Diff([]string{"$GPGGA,1*00", "$GPRMC,2*00"}, got); diff != "" {
		t.Fatalf("raw capture (-want +got):\n%s", diff)
	}
}

func TestLoggerDropsWritesAfterClose(t *testing.T) {
	l, _, dir := newTestLogger(t, true)
	l.HandleSentence(0, "$GPGGA,first*00")
	l.Close()

	l.HandleSentence(0, "$GPGGA,after-close*00")
	l.HandleFix(nmea.Fix{Valid: true})
	l.SetEnabled(true)
	if l.IsEnabled() {
		t.Fatal("closed logger reports enabled")
	}

	files, _ := filepath.Glob(filepath.Join(dir, "gnss_*"))
	if len(files) != 1 || !strings.HasSuffix(files[0], ".nmea") {
		t.Fatalf("files after close = %v", files)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "$GPGGA,first*00\r\n" {
		t.Fatalf("raw capture = %q", data)
	}
}

func TestLoggerReopenSameSecondAppends(t *testing.T) {
	dir := t.TempDir()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 23, 12, 35, 19, 0, time.UTC))
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 100, RawNMEA: true, Clock: mock})
	t.Cleanup(l.Close)
	fix := nmea.Fix{Valid: true, Quality: 1}

	l.HandleSentence(0, "$GPGGA,1*00")
	l.HandleFix(fix)
	l.SetEnabled(false)
	l.SetEnabled(true)
	mock.Add(200 * time.Millisecond)
	l.HandleSentence(0, "$GPGGA,2*00")
	l.HandleFix(fix)
	l.Close()

	rows := readCSV(t, dir)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2: %v", len(rows), rows)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "gnss_*.nmea"))
	if len(files) != 1 {
		t.Fatalf("raw files = %v", files)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "$GPGGA,1*00\r\n$GPGGA,2*00\r\n" {
		t.Fatalf("raw capture = %q", data)
	}
}

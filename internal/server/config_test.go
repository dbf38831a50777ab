package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"

	"github.com/shaunagostinho/gnssd/internal/gps"
	"github.com/shaunagostinho/gnssd/internal/nmea"
)

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
gps:
  driver: termios
  port_path: /dev/ttyUSB0
  min_fix_interval_ms: 500
server:
  listen_addr: ":9000"
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("GPS_CHECKSUM=\"verify\"\n# comment\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GPS_CHECKSUM", "")
	t.Setenv("GPS_BAUD", "9600")
	t.Setenv("MQTT_ENABLED", "yes")

	cfg := LoadConfig(path)

	if cfg.GPS.Driver != "termios" || cfg.GPS.PortPath != "/dev/ttyUSB0" {
		t.Fatalf("gps from file = %+v", cfg.GPS)
	}
	if cfg.GPS.BaudRate != 9600 {
		t.Fatalf("GPS_BAUD not applied: %d", cfg.GPS.BaudRate)
	}
	if cfg.GPS.Checksum != "verify" {
		t.Fatalf(".env not applied: checksum %q", cfg.GPS.Checksum)
	}
	if !cfg.MQTT.Enabled {
		t.Fatal("MQTT_ENABLED not applied")
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Fatalf("listen addr = %q", cfg.Server.ListenAddr)
	}
	// Untouched fields keep their defaults.
	if cfg.GPS.HardwareName != "RPi5" || cfg.GPS.HardwareYear != 2024 {
		t.Fatalf("system info defaults lost: %+v", cfg.SystemInfo())
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	def := DefaultConfig()
	if cfg.GPS.PortPath != def.GPS.PortPath || cfg.GPS.BaudRate != def.GPS.BaudRate {
		t.Fatalf("gps = %+v, want defaults", cfg.GPS)
	}
}

func TestUpdateFromJSONDeepMerge(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.UpdateFromJSON([]byte(`{"gps":{"minFixIntervalMs":250},"logging":{"enabled":true}}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if cfg.MinFixInterval() != 250*time.Millisecond {
		t.Fatalf("interval = %v", cfg.MinFixInterval())
	}
	if !cfg.Logging.Enabled {
		t.Fatal("logging not enabled")
	}
	if cfg.GPS.PortPath != "/dev/ttyAMA0" || cfg.Logging.Path != "/var/log/gnssd" {
		t.Fatal("merge dropped fields absent from the patch")
	}
	if err := cfg.UpdateFromJSON([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed patch")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.path = path
	cfg.GPS.Driver = "demo"
	if err := cfg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := LoadConfig(path); got.GPS.Driver != "demo" {
		t.Fatalf("reloaded driver = %q", got.GPS.Driver)
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	cfg := DefaultConfig()
	cfg.GPS.Checksum = "sometimes"
	cfg.GPS.Driver = "replay"
	cfg.GPS.MinFixIntervalMs = -1
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = ""
	cfg.MQTT.QoS = 3
	err := cfg.Validate()
	if n := len(multierr.Errors(err)); n != 5 {
		t.Fatalf("got %d errors, want 5: %v", n, err)
	}
}

func TestReaderAndTransportConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GPS.Checksum = "verify"
	cfg.GPS.MinFixIntervalMs = 200

	want := gps.ReaderConfig{
		MinFixInterval: 200 * time.Millisecond,
		Checksum:       nmea.ChecksumVerify,
		EventBuffer:    gps.DefaultEventBuffer,
		RetryBackoff:   time.Second,
	}
	if diff := cmp.Diff(want, cfg.Reader()); diff != "" {
		t.Fatalf("reader config (-want +got):\n%s", diff)
	}

	tc := cfg.Transport()
	if tc.Driver != "serial" || tc.PortPath != "/dev/ttyAMA0" || tc.BaudRate != 115200 {
		t.Fatalf("transport config = %+v", tc)
	}
}

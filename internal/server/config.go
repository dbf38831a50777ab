package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/gnssd/internal/gps"
	"github.com/shaunagostinho/gnssd/internal/nmea"
)

// Config holds all daemon configuration.
type Config struct {
	mu sync.RWMutex

	// Receiver
	GPS GPSConfig `yaml:"gps" json:"gps"`

	// CSV fix recording
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// MQTT publishing
	MQTT MQTTConfig `yaml:"mqtt" json:"mqtt"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type GPSConfig struct {
	Driver           string `yaml:"driver" json:"driver"`      // "serial", "termios", "jacobsa", "demo", "replay"
	PortPath         string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyAMA0
	BaudRate         int    `yaml:"baud_rate" json:"baudRate"`
	MinFixIntervalMs int    `yaml:"min_fix_interval_ms" json:"minFixIntervalMs"`
	Checksum         string `yaml:"checksum" json:"checksum"` // "ignore" or "verify"
	ReplayPath       string `yaml:"replay_path" json:"replayPath"`
	ReplayIntervalMs int    `yaml:"replay_interval_ms" json:"replayIntervalMs"`
	EventBuffer      int    `yaml:"event_buffer" json:"eventBuffer"`
	RetryBackoffMs   int    `yaml:"retry_backoff_ms" json:"retryBackoffMs"`

	// Reported as system info to registered clients.
	HardwareName string `yaml:"hardware_name" json:"hardwareName"`
	HardwareYear int    `yaml:"hardware_year" json:"hardwareYear"`
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between log entries
	RawNMEA  bool   `yaml:"raw_nmea" json:"rawNmea"`       // Capture the sentence stream too
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Broker      string `yaml:"broker" json:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id" json:"clientId"`
	TopicPrefix string `yaml:"topic_prefix" json:"topicPrefix"`
	QoS         int    `yaml:"qos" json:"qos"`
	RawNMEA     bool   `yaml:"raw_nmea" json:"rawNmea"` // Also publish every sentence
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
	Autostart  bool   `yaml:"autostart" json:"autostart"` // Start a session at boot
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GPS: GPSConfig{
			Driver:           "serial",
			PortPath:         "/dev/ttyAMA0",
			BaudRate:         115200,
			MinFixIntervalMs: 1000,
			Checksum:         "ignore",
			ReplayIntervalMs: 100,
			EventBuffer:      gps.DefaultEventBuffer,
			RetryBackoffMs:   1000,
			HardwareName:     "RPi5",
			HardwareYear:     2024,
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/gnssd",
			Interval: 1000,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "tcp://localhost:1883",
			ClientID:    "gnssd",
			TopicPrefix: "gnssd",
			QoS:         0,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
			Autostart:  true,
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		// Strip surrounding quotes
		val = strings.Trim(val, `"'`)
		// Only set if not already set in real env (real env takes precedence)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

func envBool(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: GPS_DRIVER, GPS_PORT, GPS_BAUD, GPS_MIN_INTERVAL_MS, GPS_CHECKSUM,
// GPS_REPLAY_PATH, LISTEN_ADDR, LOG_ENABLED, LOG_PATH, LOG_INTERVAL_MS,
// MQTT_ENABLED, MQTT_BROKER, MQTT_TOPIC
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GPS_DRIVER"); v != "" {
		c.GPS.Driver = v
	}
	if v := os.Getenv("GPS_PORT"); v != "" {
		c.GPS.PortPath = v
	}
	if v := os.Getenv("GPS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.GPS.BaudRate = n
		}
	}
	if v := os.Getenv("GPS_MIN_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.GPS.MinFixIntervalMs = n
		}
	}
	if v := os.Getenv("GPS_CHECKSUM"); v != "" {
		c.GPS.Checksum = v
	}
	if v := os.Getenv("GPS_REPLAY_PATH"); v != "" {
		c.GPS.ReplayPath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	// Logging
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = envBool(v)
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.Interval = n
		}
	}
	// MQTT
	if v := os.Getenv("MQTT_ENABLED"); v != "" {
		c.MQTT.Enabled = envBool(v)
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		c.MQTT.TopicPrefix = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var err error
	if _, perr := nmea.ParseChecksumPolicy(c.GPS.Checksum); perr != nil {
		err = multierr.Append(err, perr)
	}
	switch strings.ToLower(c.GPS.Driver) {
	case "", "serial", "termios", "jacobsa", "demo":
	case "replay":
		if c.GPS.ReplayPath == "" {
			err = multierr.Append(err, fmt.Errorf("gps.replay_path is required for the replay driver"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("gps.driver %q is not supported", c.GPS.Driver))
	}
	if c.GPS.MinFixIntervalMs < 0 {
		err = multierr.Append(err, fmt.Errorf("gps.min_fix_interval_ms must not be negative"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		err = multierr.Append(err, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		err = multierr.Append(err, fmt.Errorf("mqtt.qos must be 0, 1 or 2"))
	}
	return err
}

// Transport returns the transport settings for the configured driver.
func (c *Config) Transport() gps.TransportConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gps.TransportConfig{
		Driver:           c.GPS.Driver,
		PortPath:         c.GPS.PortPath,
		BaudRate:         c.GPS.BaudRate,
		ReplayPath:       c.GPS.ReplayPath,
		ReplayIntervalMs: c.GPS.ReplayIntervalMs,
	}
}

// Reader returns the reader settings. An unknown checksum policy falls back
// to ignore.
func (c *Config) Reader() gps.ReaderConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	policy, err := nmea.ParseChecksumPolicy(c.GPS.Checksum)
	if err != nil {
		log.Printf("[config] %v, ignoring checksums", err)
	}
	return gps.ReaderConfig{
		MinFixInterval: time.Duration(c.GPS.MinFixIntervalMs) * time.Millisecond,
		Checksum:       policy,
		EventBuffer:    c.GPS.EventBuffer,
		RetryBackoff:   time.Duration(c.GPS.RetryBackoffMs) * time.Millisecond,
	}
}

// MinFixInterval returns the configured fix report interval.
func (c *Config) MinFixInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.GPS.MinFixIntervalMs) * time.Millisecond
}

// SystemInfo returns the hardware identity reported to clients.
func (c *Config) SystemInfo() SystemInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return SystemInfo{Name: c.GPS.HardwareName, Year: c.GPS.HardwareYear}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/gnssd/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (e.g. port paths, baud rates, logging).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current config to a generic map
	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	// Unmarshal incoming partial update to a map
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	// Deep merge patch into base
	deepMerge(base, patch)

	// Marshal merged result and unmarshal back into the config struct
	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

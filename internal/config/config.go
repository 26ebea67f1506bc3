package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	CompanyID uint16        `yaml:"company_id"`
	LogLevel  string        `yaml:"log_level"`
	Server    ServerConfig  `yaml:"server"`
	Scan      ScanConfig    `yaml:"scan"`
	Beacon    BeaconConfig  `yaml:"beacon"`
	Adapter   AdapterConfig `yaml:"adapter"`
}

// ServerConfig holds HTTP and WebSocket settings.
type ServerConfig struct {
	Listen      string `yaml:"listen"`       // host:port, or a unix socket path
	EventBuffer int    `yaml:"event_buffer"` // events queued per WebSocket client
}

// ScanConfig holds scan defaults.
type ScanConfig struct {
	RecentDevices int           `yaml:"recent_devices"`
	ReportDelay   time.Duration `yaml:"report_delay"`
}

// BeaconConfig holds iBeacon defaults for the beacon command.
type BeaconConfig struct {
	Major         int `yaml:"major"`
	Minor         int `yaml:"minor"`
	MeasuredPower int `yaml:"measured_power"`
}

// AdapterConfig selects the Bluetooth adapter.
type AdapterConfig struct {
	ID string `yaml:"id"` // e.g. "hci0"; empty picks the first adapter
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blebeacon")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		CompanyID: 0x0000,
		LogLevel:  "info",
		Server: ServerConfig{
			Listen:      "127.0.0.1:8089",
			EventBuffer: 64,
		},
		Scan: ScanConfig{
			RecentDevices: 256,
		},
		Beacon: BeaconConfig{
			Major:         1,
			Minor:         1,
			MeasuredPower: -59,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in a unix socket listen path is expanded to the
// user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Server.Listen = expandTilde(cfg.Server.Listen)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}

	if c.Server.EventBuffer <= 0 {
		return fmt.Errorf("server.event_buffer must be > 0")
	}

	if c.Scan.RecentDevices < 0 {
		return fmt.Errorf("scan.recent_devices must be >= 0")
	}

	if c.Scan.ReportDelay < 0 {
		return fmt.Errorf("scan.report_delay must be >= 0")
	}

	if c.Beacon.Major < 0 || c.Beacon.Major > 0xFFFF {
		return fmt.Errorf("beacon.major must be in 0..65535, got %d", c.Beacon.Major)
	}

	if c.Beacon.Minor < 0 || c.Beacon.Minor > 0xFFFF {
		return fmt.Errorf("beacon.minor must be in 0..65535, got %d", c.Beacon.Minor)
	}

	if c.Beacon.MeasuredPower < -127 || c.Beacon.MeasuredPower >= 0 {
		return fmt.Errorf("beacon.measured_power must be in -127..-1, got %d", c.Beacon.MeasuredPower)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

const defaultHeader = `# blebeacon configuration
# company_id is the manufacturer ID used for custom scan payloads.
# server.listen accepts host:port or a unix socket path.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" without touching anything when a config already
// exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// IsUnixSocket reports whether listen names a unix socket path rather than
// a TCP address.
func IsUnixSocket(listen string) bool {
	return strings.HasPrefix(listen, "/") || strings.HasPrefix(listen, "./")
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

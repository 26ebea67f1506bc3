package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.CompanyID != 0 {
		t.Errorf("CompanyID = %#x, want 0", cfg.CompanyID)
	}
	if cfg.Server.Listen != "127.0.0.1:8089" {
		t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, "127.0.0.1:8089")
	}
	if cfg.Server.EventBuffer != 64 {
		t.Errorf("Server.EventBuffer = %d, want 64", cfg.Server.EventBuffer)
	}
	if cfg.Beacon.Major != 1 || cfg.Beacon.Minor != 1 || cfg.Beacon.MeasuredPower != -59 {
		t.Errorf("Beacon = %+v, want {1 1 -59}", cfg.Beacon)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on default = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
company_id: 0x0590
log_level: debug
server:
  listen: ":9000"
  event_buffer: 8
scan:
  recent_devices: 10
  report_delay: 500ms
beacon:
  measured_power: -65
adapter:
  id: hci1
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.CompanyID != 0x0590 {
		t.Errorf("CompanyID = %#x, want 0x0590", cfg.CompanyID)
	}
	if cfg.Server.Listen != ":9000" || cfg.Server.EventBuffer != 8 {
		t.Errorf("Server = %+v, want {:9000 8}", cfg.Server)
	}
	if cfg.Scan.RecentDevices != 10 {
		t.Errorf("Scan.RecentDevices = %d, want 10", cfg.Scan.RecentDevices)
	}
	if cfg.Scan.ReportDelay != 500*time.Millisecond {
		t.Errorf("Scan.ReportDelay = %v, want 500ms", cfg.Scan.ReportDelay)
	}
	if cfg.Beacon.MeasuredPower != -65 {
		t.Errorf("Beacon.MeasuredPower = %d, want -65", cfg.Beacon.MeasuredPower)
	}
	// Unset fields keep their defaults.
	if cfg.Beacon.Major != 1 {
		t.Errorf("Beacon.Major = %d, want default 1", cfg.Beacon.Major)
	}
	if cfg.Adapter.ID != "hci1" {
		t.Errorf("Adapter.ID = %q, want %q", cfg.Adapter.ID, "hci1")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
server:
  listen: ~/.cache/blebeacon.sock
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, ".cache/blebeacon.sock")
	if cfg.Server.Listen != expected {
		t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, expected)
	}
	if !IsUnixSocket(cfg.Server.Listen) {
		t.Errorf("IsUnixSocket(%q) = false", cfg.Server.Listen)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Server.Listen != Default().Server.Listen {
		t.Errorf("Server.Listen = %q, want default", cfg.Server.Listen)
	}

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: [\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := LoadOrDefault(cfgPath); err == nil {
		t.Error("LoadOrDefault() should fail on malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty listen",
			modify:  func(c *Config) { c.Server.Listen = "" },
			wantErr: true,
		},
		{
			name:    "zero event buffer",
			modify:  func(c *Config) { c.Server.EventBuffer = 0 },
			wantErr: true,
		},
		{
			name:    "negative recent devices",
			modify:  func(c *Config) { c.Scan.RecentDevices = -1 },
			wantErr: true,
		},
		{
			name:    "recent devices disabled",
			modify:  func(c *Config) { c.Scan.RecentDevices = 0 },
			wantErr: false,
		},
		{
			name:    "negative report delay",
			modify:  func(c *Config) { c.Scan.ReportDelay = -time.Second },
			wantErr: true,
		},
		{
			name:    "major out of range",
			modify:  func(c *Config) { c.Beacon.Major = 70000 },
			wantErr: true,
		},
		{
			name:    "negative minor",
			modify:  func(c *Config) { c.Beacon.Minor = -1 },
			wantErr: true,
		},
		{
			name:    "zero measured power",
			modify:  func(c *Config) { c.Beacon.MeasuredPower = 0 },
			wantErr: true,
		},
		{
			name:    "measured power too low",
			modify:  func(c *Config) { c.Beacon.MeasuredPower = -128 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "blebeacon", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# blebeacon") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:8089" {
		t.Errorf("written config Server.Listen = %q, want %q", cfg.Server.Listen, "127.0.0.1:8089")
	}
	if cfg.Beacon.MeasuredPower != -59 {
		t.Errorf("written config Beacon.MeasuredPower = %d, want -59", cfg.Beacon.MeasuredPower)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "blebeacon")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("company_id: 42\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

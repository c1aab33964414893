package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
lcn:
  host: "pchk.local"
  port: 4114
  username: "lcn"
  password: "secret"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.LCN.Host != "pchk.local" {
		t.Errorf("LCN.Host = %q, want %q", cfg.LCN.Host, "pchk.local")
	}

	// Unset LCN fields fall back to defaults.
	if cfg.LCN.NumTries != 3 {
		t.Errorf("LCN.NumTries = %d, want 3", cfg.LCN.NumTries)
	}
	if cfg.LCN.DimMode != "steps50" {
		t.Errorf("LCN.DimMode = %q, want %q", cfg.LCN.DimMode, "steps50")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
database:
  path: "/tmp/test.db"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Site:     SiteConfig{ID: "site-001"},
			Database: DatabaseConfig{Path: "/data/lcnbridge.db"},
			MQTT:     MQTTConfig{QoS: 1},
			LCN: LCNConfig{
				Host:             "localhost",
				Port:             4114,
				DimMode:          "steps50",
				StatusMode:       "percent",
				NumTries:         3,
				RequestTimeoutMs: 3500,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing site ID", func(c *Config) { c.Site.ID = "" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"missing LCN host", func(c *Config) { c.LCN.Host = "" }, true},
		{"invalid LCN port low", func(c *Config) { c.LCN.Port = 0 }, true},
		{"invalid LCN port high", func(c *Config) { c.LCN.Port = 70000 }, true},
		{"invalid dim mode", func(c *Config) { c.LCN.DimMode = "steps100" }, true},
		{"invalid status mode", func(c *Config) { c.LCN.StatusMode = "raw" }, true},
		{"zero tries", func(c *Config) { c.LCN.NumTries = 0 }, true},
		{"zero timeout", func(c *Config) { c.LCN.RequestTimeoutMs = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := &Config{
		LCN: LCNConfig{
			RequestTimeoutMs: 3500,
			PingIntervalSec:  600,
		},
	}

	if got := cfg.GetRequestTimeout().Milliseconds(); got != 3500 {
		t.Errorf("GetRequestTimeout() = %vms, want 3500", got)
	}

	if got := cfg.GetPingInterval().Seconds(); got != 600 {
		t.Errorf("GetPingInterval() = %vs, want 600", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("LCNBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("LCNBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("LCNBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("LCNBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("LCNBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("LCNBRIDGE_LCN_HOST", "192.168.1.10")
	t.Setenv("LCNBRIDGE_LCN_PORT", "4115")
	t.Setenv("LCNBRIDGE_LCN_USERNAME", "lcnuser")
	t.Setenv("LCNBRIDGE_LCN_PASSWORD", "lcnpass")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.LCN.Host != "192.168.1.10" {
		t.Errorf("LCN.Host = %q, want %q", cfg.LCN.Host, "192.168.1.10")
	}

	if cfg.LCN.Port != 4115 {
		t.Errorf("LCN.Port = %d, want 4115", cfg.LCN.Port)
	}

	if cfg.LCN.Username != "lcnuser" {
		t.Errorf("LCN.Username = %q, want %q", cfg.LCN.Username, "lcnuser")
	}

	if cfg.LCN.Password != "lcnpass" {
		t.Errorf("LCN.Password = %q, want %q", cfg.LCN.Password, "lcnpass")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.LCN.Port != 4114 {
		t.Errorf("defaultConfig LCN.Port = %d, want 4114", cfg.LCN.Port)
	}
}

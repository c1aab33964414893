package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the LCN bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	LCN      LCNConfig      `yaml:"lcn"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// LCNConfig contains the LCN-PCHK gateway connection settings.
type LCNConfig struct {
	// Host and Port locate the LCN-PCHK gateway.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Username and Password are the PCHK session credentials.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// DimMode is the output dimming granularity the bus is programmed
	// for: "steps50" or "steps200".
	DimMode string `yaml:"dim_mode"`

	// StatusMode selects output status reporting: "percent" or "native".
	StatusMode string `yaml:"status_mode"`

	// NumTries is the attempt budget for acknowledged commands and
	// status requests.
	NumTries int `yaml:"num_tries"`

	// ScanTries is the attempt budget for the segment coupler scan.
	ScanTries int `yaml:"scan_tries"`

	// RequestTimeoutMs is the per-attempt timeout in milliseconds.
	RequestTimeoutMs int `yaml:"request_timeout_ms"`

	// PingIntervalSec is the keepalive interval in seconds.
	PingIntervalSec int `yaml:"ping_interval_sec"`

	// MaxInFlightRequests bounds concurrently outstanding status
	// requests.
	MaxInFlightRequests int `yaml:"max_in_flight_requests"`

	// Reconnect contains PCHK reconnection settings. The protocol core
	// never reconnects by itself; the bridge drives this policy.
	Reconnect LCNReconnectConfig `yaml:"reconnect"`
}

// LCNReconnectConfig contains PCHK reconnection settings.
type LCNReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LCNBRIDGE_SECTION_KEY
// For example: LCNBRIDGE_DATABASE_PATH, LCNBRIDGE_LCN_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "LCN Bridge",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/lcnbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lcn-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		LCN: LCNConfig{
			Host:                "localhost",
			Port:                4114,
			DimMode:             "steps50",
			StatusMode:          "percent",
			NumTries:            3,
			ScanTries:           3,
			RequestTimeoutMs:    3500,
			PingIntervalSec:     600,
			MaxInFlightRequests: 10,
			Reconnect: LCNReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LCNBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("LCNBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("LCNBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LCNBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LCNBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("LCNBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// LCN gateway
	if v := os.Getenv("LCNBRIDGE_LCN_HOST"); v != "" {
		cfg.LCN.Host = v
	}
	if v := os.Getenv("LCNBRIDGE_LCN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.LCN.Port = port
		}
	}
	if v := os.Getenv("LCNBRIDGE_LCN_USERNAME"); v != "" {
		cfg.LCN.Username = v
	}
	if v := os.Getenv("LCNBRIDGE_LCN_PASSWORD"); v != "" {
		cfg.LCN.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// LCN validation
	if c.LCN.Host == "" {
		errs = append(errs, "lcn.host is required")
	}
	if c.LCN.Port < 1 || c.LCN.Port > 65535 {
		errs = append(errs, "lcn.port must be between 1 and 65535")
	}
	switch c.LCN.DimMode {
	case "steps50", "steps200":
	default:
		errs = append(errs, "lcn.dim_mode must be steps50 or steps200")
	}
	switch c.LCN.StatusMode {
	case "percent", "native":
	default:
		errs = append(errs, "lcn.status_mode must be percent or native")
	}
	if c.LCN.NumTries < 1 {
		errs = append(errs, "lcn.num_tries must be at least 1")
	}
	if c.LCN.RequestTimeoutMs < 1 {
		errs = append(errs, "lcn.request_timeout_ms must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the per-attempt request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.LCN.RequestTimeoutMs) * time.Millisecond
}

// GetPingInterval returns the keepalive interval as a Duration.
func (c *Config) GetPingInterval() time.Duration {
	return time.Duration(c.LCN.PingIntervalSec) * time.Second
}

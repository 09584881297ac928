// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: CLI flags > environment variables > config file > defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "1.5s", "1m". A bare integer is
// read as a number of seconds.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if secs, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
			d.Duration = time.Duration(secs) * time.Second
			return nil
		}
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all agent configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Collection CollectionConfig `yaml:"collection"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Spool      SpoolConfig      `yaml:"spool"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds collector connection settings.
type ServerConfig struct {
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	Insecure bool   `yaml:"insecure"`
}

// CollectionConfig holds sampling settings.
type CollectionConfig struct {
	// Interval between cycles; zero or negative runs a single cycle.
	Interval     Duration `yaml:"interval"`
	SampleWindow Duration `yaml:"sample_window"`
	Hostname     string   `yaml:"hostname"`
}

// DeliveryConfig holds HTTP delivery and retry settings.
type DeliveryConfig struct {
	ConnectTimeout Duration `yaml:"connect_timeout"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	MaxRetries     int      `yaml:"max_retries"`
	BackoffBase    Duration `yaml:"backoff_base"`
	BackoffFactor  float64  `yaml:"backoff_factor"`
}

// SpoolConfig holds the optional local spool for undelivered snapshots.
type SpoolConfig struct {
	Dir       string `yaml:"dir"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL: "http://localhost:8000/api/v1/process-snapshots/",
		},
		Collection: CollectionConfig{
			Interval:     Duration{0},
			SampleWindow: Duration{200 * time.Millisecond},
		},
		Delivery: DeliveryConfig{
			ConnectTimeout: Duration{5 * time.Second},
			ReadTimeout:    Duration{10 * time.Second},
			MaxRetries:     3,
			BackoffBase:    Duration{1500 * time.Millisecond},
			BackoffFactor:  2,
		},
		Spool: SpoolConfig{
			MaxSizeMB: 50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// CLIOverrides holds values from command-line flags.
// Empty strings are treated as "not set" and skipped.
type CLIOverrides struct {
	URL    string
	APIKey string
	Once   bool
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads configuration with the full precedence chain:
// CLI flags > env vars > YAML file > defaults.
// An empty path auto-discovers the file via Locate. A missing explicit file
// is not an error; defaults and environment are used instead.
func Load(path string, cli CLIOverrides) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = Locate()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cli.URL != "" {
		cfg.Server.URL = cli.URL
	}
	if cli.APIKey != "" {
		cfg.Server.APIKey = cli.APIKey
	}
	if cli.Once {
		cfg.Collection.Interval = Duration{0}
	}

	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg interface{}, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PS_BACKEND_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("PS_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PS_INTERVAL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid PS_INTERVAL_SECONDS %q: %w", v, err)
		}
		cfg.Collection.Interval = Duration{time.Duration(secs) * time.Second}
	}
	if v := os.Getenv("PS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks that the configuration can be used for delivery.
// Plain HTTP is only accepted for localhost unless server.insecure is set.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server URL is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		host := u.Hostname()
		if !c.Server.Insecure && host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("server URL must use HTTPS (got: %s)", c.Server.URL)
		}
	default:
		return fmt.Errorf("server URL must be http or https (got: %s)", c.Server.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("server URL has no host (got: %s)", c.Server.URL)
	}
	if c.Server.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.Delivery.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1 (got: %d)", c.Delivery.MaxRetries)
	}
	if c.Delivery.ConnectTimeout.Duration <= 0 || c.Delivery.ReadTimeout.Duration <= 0 {
		return fmt.Errorf("connect and read timeouts must be positive")
	}
	if c.Delivery.BackoffBase.Duration < 0 {
		return fmt.Errorf("backoff_base must not be negative")
	}
	if c.Delivery.BackoffFactor < 1 {
		return fmt.Errorf("backoff_factor must be at least 1 (got: %v)", c.Delivery.BackoffFactor)
	}
	if c.Collection.SampleWindow.Duration <= 0 {
		return fmt.Errorf("sample_window must be positive")
	}
	return nil
}

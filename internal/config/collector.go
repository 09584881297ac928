package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CollectorConfig holds all ingestion/query service configuration.
type CollectorConfig struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Retention RetentionConfig `yaml:"retention"`
	Query     QueryConfig     `yaml:"query"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HTTPConfig holds listener, timeout and request-limit settings.
type HTTPConfig struct {
	Address         string   `yaml:"address"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxBodyMB       int      `yaml:"max_body_mb"`
	RateLimit       float64  `yaml:"rate_limit"`
	RateBurst       int      `yaml:"rate_burst"`
}

// AuthConfig holds the accepted agent credentials.
type AuthConfig struct {
	APIKeys      []string `yaml:"api_keys"`
	ProtectReads bool     `yaml:"protect_reads"`
}

// StorageConfig holds the SQLite database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// RetentionConfig controls bulk purging of old snapshots.
// A zero MaxAge keeps snapshots forever.
type RetentionConfig struct {
	MaxAge   Duration `yaml:"max_age"`
	Interval Duration `yaml:"interval"`
}

// QueryConfig holds list query limits.
type QueryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// DefaultCollectorConfig returns the default service configuration.
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		HTTP: HTTPConfig{
			Address:         ":8000",
			ReadTimeout:     Duration{10 * time.Second},
			WriteTimeout:    Duration{30 * time.Second},
			IdleTimeout:     Duration{120 * time.Second},
			ShutdownTimeout: Duration{30 * time.Second},
			MaxBodyMB:       32,
			RateLimit:       100,
			RateBurst:       200,
		},
		Storage: StorageConfig{
			Path: "procsnap.db",
		},
		Retention: RetentionConfig{
			Interval: Duration{time.Hour},
		},
		Query: QueryConfig{
			DefaultLimit: 20,
			MaxLimit:     500,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadCollector reads service configuration: env vars > YAML file > defaults.
// An empty path uses defaults and environment only.
func LoadCollector(path string) (*CollectorConfig, error) {
	cfg := DefaultCollectorConfig()

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

	applyCollectorEnvOverrides(cfg)
	return cfg, nil
}

func applyCollectorEnvOverrides(cfg *CollectorConfig) {
	if v := os.Getenv("PS_LISTEN_ADDR"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("PS_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("PS_API_KEYS"); v != "" {
		cfg.Auth.APIKeys = splitKeys(v)
	}
	if v := os.Getenv("PS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// splitKeys parses a comma separated key list, dropping blanks.
func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Validate checks that the service can start.
func (c *CollectorConfig) Validate() error {
	if len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("at least one api key is required")
	}
	for i, k := range c.Auth.APIKeys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("api key %d is blank", i)
		}
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if c.HTTP.MaxBodyMB <= 0 {
		return fmt.Errorf("max_body_mb must be positive")
	}
	if c.HTTP.RateLimit <= 0 || c.HTTP.RateBurst <= 0 {
		return fmt.Errorf("rate_limit and rate_burst must be positive")
	}
	if c.Query.DefaultLimit < 1 || c.Query.MaxLimit < c.Query.DefaultLimit {
		return fmt.Errorf("query limits invalid: default %d, max %d", c.Query.DefaultLimit, c.Query.MaxLimit)
	}
	if c.Retention.MaxAge.Duration > 0 && c.Retention.Interval.Duration <= 0 {
		return fmt.Errorf("retention interval must be positive when max_age is set")
	}
	return nil
}

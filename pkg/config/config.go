// Package config loads the engine configuration from a YAML file with
// environment overrides (THREADBOX_* variables win over the file).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Hosts   HostsConfig   `yaml:"hosts"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Sweeper SweeperConfig `yaml:"sweeper"`
}

// StorageConfig holds row store settings.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// RedisConfig holds the lock service connection and probe settings.
type RedisConfig struct {
	// URL is a redis:// connection string. Empty disables timestamp
	// locking (best-effort assignment only).
	URL string `yaml:"url"`
	// LockTTLSeconds bounds how long a timestamp slot stays reserved.
	LockTTLSeconds int `yaml:"lock_ttl_seconds"`
	// LockMaxRetries caps the linear probe on contention.
	LockMaxRetries int `yaml:"lock_max_retries"`
}

// HostsConfig names the deployment hosts whose absolute links get
// rewritten to relative ones.
type HostsConfig struct {
	Known []string `yaml:"known"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds the Prometheus scrape endpoint settings for the
// sweeper daemon. An empty addr disables the endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SweeperConfig holds configuration for the background purge runner.
type SweeperConfig struct {
	Enabled bool `yaml:"enabled"`
	// Cron schedules sweep runs; default daily at 02:00.
	Cron string `yaml:"cron"`
	// TombstonePeriod is how long hard-delete tombstones are kept,
	// e.g. "720h". Empty keeps them forever.
	TombstonePeriod string `yaml:"tombstone_period"`
	BatchSize       int    `yaml:"batch_size"`
	// RatePerSec paces row deletions during a sweep; 0 means unpaced.
	RatePerSec float64 `yaml:"rate_per_sec"`
}

// Load reads the YAML config at path and applies environment overrides.
// A missing file is not an error when THREADBOX_DB_PATH is set; defaults
// plus environment then fully describe the deployment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if cfg.Storage.DBPath == "" {
		return nil, fmt.Errorf("storage.db_path is required (file %q or THREADBOX_DB_PATH)", path)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("THREADBOX_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("THREADBOX_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("THREADBOX_HOSTS"); v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if s := strings.TrimSpace(h); s != "" {
				hosts = append(hosts, s)
			}
		}
		cfg.Hosts.Known = hosts
	}
	if v := os.Getenv("THREADBOX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("THREADBOX_SWEEPER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sweeper.Enabled = b
		}
	}
	if v := os.Getenv("THREADBOX_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("THREADBOX_SWEEPER_CRON"); v != "" {
		cfg.Sweeper.Cron = v
	}
}

// Package config loads and validates the reader agent configuration
// from a YAML file. The device API key is deliberately kept out of the
// file and read from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the agent configuration.
type Config struct {
	API struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"api"`

	Device struct {
		DeviceID string `yaml:"device_id"`
		// APIKey comes from the DEVICE_API_KEY environment variable,
		// never from the file.
		APIKey string `yaml:"-"`
	} `yaml:"device"`

	Reader struct {
		PollIntervalMs int `yaml:"poll_interval_ms"`
	} `yaml:"reader"`

	Buffer struct {
		Path            string `yaml:"path"`
		MaxSyncAttempts int    `yaml:"max_sync_attempts"`
		RetentionDays   int    `yaml:"retention_days"`
	} `yaml:"buffer"`

	Sync struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		BatchSize       int `yaml:"batch_size"`
	} `yaml:"sync"`

	LogLevel string `yaml:"log_level"`
}

// Load reads the config file, applies defaults, pulls the API key from
// the environment, and validates required fields.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.Device.APIKey = os.Getenv("DEVICE_API_KEY")

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = 10
	}
	if c.Reader.PollIntervalMs <= 0 {
		c.Reader.PollIntervalMs = 500
	}
	if c.Buffer.MaxSyncAttempts <= 0 {
		c.Buffer.MaxSyncAttempts = 5
	}
	if c.Buffer.RetentionDays <= 0 {
		c.Buffer.RetentionDays = 30
	}
	if c.Sync.IntervalSeconds <= 0 {
		c.Sync.IntervalSeconds = 30
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 50
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config: api.base_url is required")
	}
	if c.Device.DeviceID == "" {
		return fmt.Errorf("config: device.device_id is required")
	}
	if c.Device.APIKey == "" {
		return fmt.Errorf("config: DEVICE_API_KEY environment variable not set")
	}
	if c.Buffer.Path == "" {
		return fmt.Errorf("config: buffer.path is required")
	}
	return nil
}

// APITimeout returns the request timeout as a duration.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// PollInterval returns the reader poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Reader.PollIntervalMs) * time.Millisecond
}

// SyncInterval returns the periodic sync interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// BufferRetention returns how long SYNCED rows are kept before cleanup.
func (c *Config) BufferRetention() time.Duration {
	return time.Duration(c.Buffer.RetentionDays) * 24 * time.Hour
}

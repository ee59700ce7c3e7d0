/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	errs "github.com/ssargent/ringrelay/pkg/errors"
)

// Config represents the ringrelay configuration
type Config struct {
	ShmDir  string  `yaml:"shm_dir"`
	Logging Logging `yaml:"logging"`
	Metrics Metrics `yaml:"metrics"`
	Relay   Relay   `yaml:"relay"`
	File    File    `yaml:"file"`
	NATS    NATS    `yaml:"nats"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures the monitoring HTTP server; port 0 disables it
type Metrics struct {
	Port   int    `yaml:"port"`
	Bind   string `yaml:"bind"`
	APIKey string `yaml:"api_key"`
}

// Relay holds the timing and retry tunables shared by all relays
type Relay struct {
	IdleWait          time.Duration `yaml:"idle_wait"`
	FullWait          time.Duration `yaml:"full_wait"`
	MaxWait           time.Duration `yaml:"max_wait"`
	StatsInterval     time.Duration `yaml:"stats_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	MaxRetries        int           `yaml:"max_retries"`
}

// File configures sequential record files
type File struct {
	SegmentSize   int64         `yaml:"segment_size"`
	FsyncInterval time.Duration `yaml:"fsync_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Catalog       string        `yaml:"catalog"`
}

// NATS configures the monitoring relay
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Metrics: Metrics{
			Port: 0,
			Bind: "127.0.0.1",
		},
		Relay: Relay{
			IdleWait:          20 * time.Microsecond,
			FullWait:          200 * time.Microsecond,
			StatsInterval:     10 * time.Second,
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: time.Second,
			MaxRetries:        10,
		},
		File: File{
			SegmentSize:   2_000_000_000,
			FsyncInterval: time.Second,
			BufferSize:    1 << 20,
		},
		NATS: NATS{
			URL:     "nats://127.0.0.1:4222",
			Subject: "ringrelay.records",
		},
	}
}

// Validate checks the configuration for impossible values
func (c *Config) Validate() error {
	switch {
	case c.Relay.IdleWait <= 0:
		return fmt.Errorf("%w: relay.idle_wait must be positive", errs.ErrInvalidConfig)
	case c.Relay.FullWait <= 0:
		return fmt.Errorf("%w: relay.full_wait must be positive", errs.ErrInvalidConfig)
	case c.Relay.MaxWait != 0 && c.Relay.MaxWait < c.Relay.IdleWait:
		return fmt.Errorf("%w: relay.max_wait below relay.idle_wait", errs.ErrInvalidConfig)
	case c.Relay.ReconnectDelay <= 0:
		return fmt.Errorf("%w: relay.reconnect_delay must be positive", errs.ErrInvalidConfig)
	case c.Relay.MaxReconnectDelay < c.Relay.ReconnectDelay:
		return fmt.Errorf("%w: relay.max_reconnect_delay below relay.reconnect_delay", errs.ErrInvalidConfig)
	case c.Relay.MaxRetries < 0:
		return fmt.Errorf("%w: relay.max_retries cannot be negative", errs.ErrInvalidConfig)
	case c.File.SegmentSize <= 0:
		return fmt.Errorf("%w: file.segment_size must be positive", errs.ErrInvalidConfig)
	case c.Metrics.Port < 0 || c.Metrics.Port > 65535:
		return fmt.Errorf("%w: metrics.port out of range", errs.ErrInvalidConfig)
	}
	return nil
}

// LoadConfig loads configuration from the specified path. Fields missing from
// the file keep their default values.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateSecureKey generates a cryptographically secure random key
func GenerateSecureKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// BootstrapConfig writes a default configuration, optionally with a freshly
// generated monitoring API key.
func BootstrapConfig(configPath string, withAPIKey bool) (*Config, error) {
	config := DefaultConfig()

	if withAPIKey {
		key, err := GenerateSecureKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate api key: %w", err)
		}
		config.Metrics.APIKey = key
	}

	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save bootstrap config: %w", err)
	}

	return config, nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./ringrelay.yaml"
	}

	return filepath.Join(homeDir, ".config", "ringrelay", "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}

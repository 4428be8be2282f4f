// Package config loads and validates the vulnhawk configuration from YAML
// files with sensible defaults for every setting.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/logging"
)

// Config represents the complete service configuration.
type Config struct {
	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ScanningConfig holds scan execution settings.
type ScanningConfig struct {
	// Number of concurrent scan workers
	WorkerPoolSize int `yaml:"worker_pool_size" json:"worker_pool_size"`

	// How often idle workers poll the queue
	QueuePollInterval time.Duration `yaml:"queue_poll_interval" json:"queue_poll_interval"`

	// Hard ceiling on a single module's execution time
	ModuleTimeout time.Duration `yaml:"module_timeout" json:"module_timeout"`

	// How often a running scan checks for cancellation
	CancelPollInterval time.Duration `yaml:"cancel_poll_interval" json:"cancel_poll_interval"`

	// Timeout for individual HTTP probes issued by modules
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout"`

	// User agent sent on HTTP probes
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// DNS resolvers (host or host:port) used by resolver-based modules
	Resolvers []string `yaml:"resolvers" json:"resolvers"`

	// CIDR ranges scans must never touch. Targets resolving into one of
	// these are rejected before any module runs.
	BlockedCIDRs []string `yaml:"blocked_cidrs" json:"blocked_cidrs"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	Port       int    `yaml:"port" json:"port"`

	// Request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// Maximum request body size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`

	// Enable per-request logging middleware
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Database: db.DefaultConfig(),
		Scanning: ScanningConfig{
			WorkerPoolSize:     4,
			QueuePollInterval:  2 * time.Second,
			ModuleTimeout:      10 * time.Minute,
			CancelPollInterval: 2 * time.Second,
			HTTPTimeout:        10 * time.Second,
			UserAgent:          "vulnhawk/1.0 (Security Scanner)",
			Resolvers:          []string{"8.8.8.8:53", "1.1.1.1:53"},
			BlockedCIDRs: []string{
				"10.0.0.0/8",
				"172.16.0.0/12",
				"192.168.0.0/16",
				"127.0.0.0/8",
				"169.254.0.0/16",
			},
		},
		API: APIConfig{
			Enabled:        true,
			ListenAddr:     "127.0.0.1",
			Port:           8080,
			RequestTimeout: 30 * time.Second,
			MaxRequestSize: 1024 * 1024,
			RequestLogging: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from a YAML file layered over defaults. A missing
// file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if c.Scanning.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive")
	}
	if c.Scanning.ModuleTimeout <= 0 {
		return fmt.Errorf("module timeout must be positive")
	}
	for _, cidr := range c.Scanning.BlockedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid blocked CIDR %q: %w", cidr, err)
		}
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("API port must be between 1 and 65535")
		}
		if c.API.ListenAddr == "" {
			return fmt.Errorf("API listen address is required when API is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// GetAPIAddress returns the full API listen address.
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}

// LoggingSettings converts the logging section into the logger's config.
func (c *Config) LoggingSettings() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(c.Logging.Level),
		Format: logging.LogFormat(c.Logging.Format),
		Output: c.Logging.Output,
	}
}

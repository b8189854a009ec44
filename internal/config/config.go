// Package config loads the hub's static configuration: server settings
// and the file-backed template, user, and group definitions.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds hub configuration.
type Config struct {
	// Address is the listen address (e.g. ":8080").
	Address string `yaml:"address"`

	// ShutdownTimeout bounds connection draining during shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Log configures the structured logger.
	Log LogConfig `yaml:"log"`

	// MaxErrorRate caps hub-wide errors per minute before the breaker
	// trips. Zero disables the breaker.
	MaxErrorRate int `yaml:"max_error_rate"`

	// ReapIdle is how long an active task may go without updates before
	// the reaper deletes its active record. Zero disables reaping.
	ReapIdle time.Duration `yaml:"reap_idle"`

	// Template, type, user and group definition files.
	TemplatesFile string `yaml:"templates_file"`
	TypesFile     string `yaml:"types_file"`
	UsersFile     string `yaml:"users_file"`
	GroupsFile    string `yaml:"groups_file"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Address:         ":8080",
		ShutdownTimeout: 30 * time.Second,
		Log:             LogConfig{Level: "info", Format: "json"},
		MaxErrorRate:    20,
		ReapIdle:        30 * time.Minute,
	}
}

// Load reads configuration from a YAML file, applying defaults for
// anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for fatal mistakes.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if c.TemplatesFile == "" {
		return fmt.Errorf("templates_file must be set")
	}
	if c.MaxErrorRate < 0 {
		return fmt.Errorf("max_error_rate must not be negative")
	}
	if c.ReapIdle < 0 {
		return fmt.Errorf("reap_idle must not be negative")
	}
	return nil
}

// Package config loads the customerctl configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/go-customercache/pkg/store"
	"github.com/illmade-knight/go-customercache/pkg/transport"
	"gopkg.in/yaml.v3"
)

// RedisConfig selects the shared Redis store. An empty Addr means the
// in-memory store is used.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	Prefix     string        `yaml:"prefix"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// Config is the contents of the YAML configuration file.
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
	PerPage        int           `yaml:"per_page"`
	Redis          RedisConfig   `yaml:"redis"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		BaseURL:        "http://localhost:1323",
		RequestTimeout: 10 * time.Second,
		LogLevel:       "info",
		PerPage:        store.DefaultPerPage,
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that have no usable zero value.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.PerPage <= 0 {
		return fmt.Errorf("per_page must be positive, got %d", c.PerPage)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout cannot be negative, got %s", c.RequestTimeout)
	}
	return nil
}

// Transport returns the HTTP client configuration.
func (c *Config) Transport() *transport.Config {
	return &transport.Config{BaseURL: c.BaseURL, Timeout: c.RequestTimeout}
}

// Store returns the Redis store configuration, or nil when Redis is not used.
func (c *Config) Store() *store.RedisConfig {
	if c.Redis.Addr == "" {
		return nil
	}
	return &store.RedisConfig{
		Addr:       c.Redis.Addr,
		Password:   c.Redis.Password,
		DB:         c.Redis.DB,
		Prefix:     c.Redis.Prefix,
		SessionTTL: c.Redis.SessionTTL,
	}
}

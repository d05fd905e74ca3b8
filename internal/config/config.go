// Package config loads the hostiotrace YAML configuration.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/hostiotrace/internal/alert"
	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/ratelimit"
)

// Config holds every configurable setting. CLI flags override these values.
type Config struct {
	RPCURL       string        `yaml:"rpc_url"`
	NativeTracer bool          `yaml:"native_tracer"`
	NestingOps   []string      `yaml:"nesting_ops"`
	Timeout      time.Duration `yaml:"timeout"`
	CachePath    string        `yaml:"cache_path"`
	AuditLog     string        `yaml:"audit_log"`
	LogLevel     string        `yaml:"log_level"`

	// Daemon settings.
	Inbox        string        `yaml:"inbox"`
	Outbox       string        `yaml:"outbox"`
	PollMode     bool          `yaml:"poll_mode"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Workers      int           `yaml:"workers"`
	// Alerts are webhooks notified of daemon job outcomes.
	Alerts []alert.Config `yaml:"alerts,omitempty"`

	// Listen is the gRPC server address.
	Listen string `yaml:"listen"`
	// RateLimit caps gRPC requests per peer host. Zero disables it.
	RateLimit ratelimit.Limit `yaml:"rate_limit"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		RPCURL:       "http://localhost:8547",
		NestingOps:   append([]string(nil), model.DefaultNestingOps...),
		Timeout:      30 * time.Second,
		LogLevel:     "info",
		PollInterval: 2 * time.Second,
		Workers:      4,
		Listen:       "127.0.0.1:9650",
	}
}

// DefaultPath is ~/.hostiotrace/config.yaml, or "" when the home directory
// is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hostiotrace", "config.yaml")
}

// LoadConfig loads configuration from a YAML file.
// Empty path falls back to DefaultPath. Missing file returns defaults.
// Invalid YAML or invalid values return an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads configuration and returns the SHA-256 of the raw
// file bytes. When no file exists the hash is that of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}
	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Debug("No config file, using defaults", "path", path)
		case err != nil:
			return nil, "", fmt.Errorf("config: read %s: %w", path, err)
		default:
			data = raw
		}
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// Validate checks values that would otherwise fail later at use.
func (c *Config) Validate() error {
	if _, err := c.Nests(); err != nil {
		return fmt.Errorf("config: nesting_ops: %w", err)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1")
	}
	if _, err := log.LvlFromString(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("config: rate_limit: %w", err)
	}
	for i, a := range c.Alerts {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("config: alerts[%d]: %w", i, err)
		}
	}
	return nil
}

// Nests is the configured nesting operation set. An explicitly empty list
// yields an empty set: no hostio claims a frame.
func (c *Config) Nests() (model.NestingSet, error) {
	return model.NewNestingSet(c.NestingOps...)
}

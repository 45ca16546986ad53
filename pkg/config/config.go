package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Fallback policies for search-and-connect.
const (
	// FallbackNotApplicableOnly moves to the next strategy only when the
	// current one has no candidate.
	FallbackNotApplicableOnly = "not-applicable-only"
	// FallbackOnFailure also moves on when a candidate failed to connect.
	FallbackOnFailure = "on-failure"
)

// Store backends.
const (
	StoreMemory  = "memory"
	StoreFile    = "file"
	StoreKeyring = "keyring"
)

// StoreConfig selects where previously connected belts are remembered.
type StoreConfig struct {
	Backend        string `yaml:"backend" default:"file"`
	Path           string `yaml:"path"`
	KeyringService string `yaml:"keyring_service" default:"beltctl"`
}

// Config holds application configuration
type Config struct {
	LogLevel               string        `yaml:"log_level" default:"info"`
	ScanTimeout            time.Duration `yaml:"scan_timeout" default:"15s"`
	ConnectTimeout         time.Duration `yaml:"connect_timeout" default:"20s"`
	WakeupTimeout          time.Duration `yaml:"wakeup_timeout" default:"3s"`
	OperationTimeout       time.Duration `yaml:"operation_timeout" default:"250ms"`
	ErrorLogTimeout        time.Duration `yaml:"error_log_timeout" default:"1500ms"`
	NavigationUpdatePeriod time.Duration `yaml:"navigation_update_period" default:"100ms"`
	FallbackPolicy         string        `yaml:"fallback_policy" default:"not-applicable-only"`
	HistorySize            int           `yaml:"history_size" default:"64"`
	AutoReconnect          bool          `yaml:"auto_reconnect"`
	Store                  StoreConfig   `yaml:"store"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Store.Path = DefaultStorePath()
	return cfg
}

// DefaultStorePath is the file backend location under the user config dir.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".beltctl-belts.yaml"
	}
	return filepath.Join(dir, "beltctl", "belts.yaml")
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects non-positive timeouts and unknown enum values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"scan_timeout":             c.ScanTimeout,
		"connect_timeout":          c.ConnectTimeout,
		"wakeup_timeout":           c.WakeupTimeout,
		"operation_timeout":        c.OperationTimeout,
		"error_log_timeout":        c.ErrorLogTimeout,
		"navigation_update_period": c.NavigationUpdatePeriod,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	switch c.FallbackPolicy {
	case FallbackNotApplicableOnly, FallbackOnFailure:
	default:
		return fmt.Errorf("fallback_policy: unknown policy %q", c.FallbackPolicy)
	}
	switch c.Store.Backend {
	case StoreMemory, StoreKeyring:
	case StoreFile:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the file backend")
		}
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive, got %d", c.HistorySize)
	}
	return nil
}

// Level returns the parsed log level, info when unparsable.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

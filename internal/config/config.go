package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LogFormat selects the log encoder.
type LogFormat string

const (
	// LogFormatPretty uses a human-readable console encoder.
	LogFormatPretty LogFormat = "pretty"

	// LogFormatJSON uses a machine-readable JSON encoder.
	LogFormatJSON LogFormat = "json"

	// LogFormatAuto picks pretty when stderr is a terminal, json otherwise.
	LogFormatAuto LogFormat = "auto"
)

// Config holds all configuration for the merge queue service.
// It is immutable after creation via Load().
type Config struct {
	// GitHub identifies the managed repository and how to reach the API
	GitHub GitHubConfig `yaml:"github"`

	// Webhook contains webhook ingress settings
	Webhook WebhookConfig `yaml:"webhook"`

	// Queue contains queue behavior settings
	Queue QueueConfig `yaml:"queue"`

	// API contains HTTP listener settings
	API APIConfig `yaml:"api"`

	// Database contains persistence settings
	Database DatabaseConfig `yaml:"database"`

	// Processor contains queue processor settings
	Processor ProcessorConfig `yaml:"processor"`

	// Cache contains check result cache settings
	Cache CacheConfig `yaml:"cache"`

	// Log controls log verbosity and encoding
	Log LogConfig `yaml:"log"`
}

// GitHubConfig identifies the GitHub repository and API credentials.
type GitHubConfig struct {
	// Token is the bearer token used for all gateway calls
	Token string `yaml:"token"`

	// Owner is the GitHub organization or user (e.g., "imq-dev")
	Owner string `yaml:"owner"`

	// Repo is the repository name (e.g., "imq")
	Repo string `yaml:"repo"`

	// APIBaseURL overrides the GitHub API endpoint (GHE, tests)
	APIBaseURL string `yaml:"api_base_url"`
}

// WebhookConfig controls webhook signature verification.
type WebhookConfig struct {
	// Secret is the HMAC key; empty disables signature verification
	Secret string `yaml:"secret"`
}

// QueueConfig controls queue membership behavior.
type QueueConfig struct {
	// TriggerLabel is the PR label that enqueues a pull request.
	// This seeds the system configuration row on first startup; the
	// live value is editable over the API afterwards.
	TriggerLabel string `yaml:"trigger_label"`
}

// APIConfig controls the HTTP listener (webhook + REST + WebSocket).
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig controls the SQLite store.
type DatabaseConfig struct {
	// Path is the database file location; "~" expands to the home dir
	Path string `yaml:"path"`

	// PoolSize caps concurrent store connections
	PoolSize int `yaml:"pool_size"`
}

// ProcessorConfig controls the queue processor loop.
type ProcessorConfig struct {
	// MaxConcurrent caps simultaneously running pipelines
	MaxConcurrent int `yaml:"max_concurrent"`

	// Interval is the sleep between processing cycles (duration string)
	Interval string `yaml:"interval"`

	// Timeout is the per-pipeline deadline (duration string)
	Timeout string `yaml:"timeout"`

	// ShutdownTimeout bounds the wait for in-flight pipelines on shutdown
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// CacheConfig controls the check result cache.
type CacheConfig struct {
	// TTL is how long a cached result stays valid (duration string)
	TTL string `yaml:"ttl"`

	// MaxEntries is the hard cap; exceeding it evicts the oldest 10%
	MaxEntries int `yaml:"max_entries"`
}

// LogConfig controls log verbosity and encoding.
type LogConfig struct {
	// Level is one of: debug, info, warn, error
	Level string `yaml:"level"`

	// Format is one of: pretty, json, auto
	Format LogFormat `yaml:"format"`
}

// ProcessingInterval returns the parsed processor interval.
func (c *Config) ProcessingInterval() (time.Duration, error) {
	return time.ParseDuration(c.Processor.Interval)
}

// ProcessingTimeout returns the parsed per-pipeline deadline.
func (c *Config) ProcessingTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Processor.Timeout)
}

// ShutdownTimeout returns the parsed shutdown wait bound.
func (c *Config) ShutdownTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Processor.ShutdownTimeout)
}

// CacheTTL returns the parsed result cache TTL.
func (c *Config) CacheTTL() (time.Duration, error) {
	return time.ParseDuration(c.Cache.TTL)
}

// ListenAddr returns the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// Load loads configuration from an optional YAML file plus the environment.
// It applies defaults, then file values, then environment overrides, then
// expands paths and validates.
//
// Parameters:
//   - configPath: path to a YAML config file; empty means ".imq.yaml" in the
//     working directory, and a missing file is not an error
//
// Returns the validated Config or an error if validation fails.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := configPath != ""
	if !explicit {
		configPath = ".imq.yaml"
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// Note: missing default config file is not an error (use defaults)

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	path, err := expandHome(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("expand database path: %w", err)
	}
	cfg.Database.Path = path

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// expandHome resolves a leading "~" to the current user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// envOverrides maps environment variables to config field setters.
var envOverrides = []struct {
	envVar string
	apply  func(*Config, string) error
}{
	{
		envVar: "IMQ_GITHUB_TOKEN",
		apply: func(c *Config, v string) error {
			c.GitHub.Token = v
			return nil
		},
	},
	{
		envVar: "IMQ_GITHUB_REPO",
		apply: func(c *Config, v string) error {
			owner, repo, err := splitRepo(v)
			if err != nil {
				return err
			}
			c.GitHub.Owner = owner
			c.GitHub.Repo = repo
			return nil
		},
	},
	{
		envVar: "IMQ_GITHUB_API_URL",
		apply: func(c *Config, v string) error {
			c.GitHub.APIBaseURL = v
			return nil
		},
	},
	{
		envVar: "IMQ_WEBHOOK_SECRET",
		apply: func(c *Config, v string) error {
			c.Webhook.Secret = v
			return nil
		},
	},
	{
		envVar: "IMQ_TRIGGER_LABEL",
		apply: func(c *Config, v string) error {
			c.Queue.TriggerLabel = v
			return nil
		},
	},
	{
		envVar: "IMQ_API_HOST",
		apply: func(c *Config, v string) error {
			c.API.Host = v
			return nil
		},
	},
	{
		envVar: "IMQ_API_PORT",
		apply: func(c *Config, v string) error {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", v, err)
			}
			c.API.Port = port
			return nil
		},
	},
	{
		envVar: "IMQ_DATABASE_PATH",
		apply: func(c *Config, v string) error {
			c.Database.Path = v
			return nil
		},
	},
	{
		envVar: "IMQ_DATABASE_POOL_SIZE",
		apply: func(c *Config, v string) error {
			size, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid pool size %q: %w", v, err)
			}
			c.Database.PoolSize = size
			return nil
		},
	},
	{
		envVar: "IMQ_MAX_CONCURRENT",
		apply: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid max concurrent %q: %w", v, err)
			}
			c.Processor.MaxConcurrent = n
			return nil
		},
	},
	{
		envVar: "IMQ_PROCESSING_INTERVAL",
		apply: func(c *Config, v string) error {
			c.Processor.Interval = v
			return nil
		},
	},
	{
		envVar: "IMQ_PROCESSING_TIMEOUT",
		apply: func(c *Config, v string) error {
			c.Processor.Timeout = v
			return nil
		},
	},
	{
		envVar: "IMQ_SHUTDOWN_TIMEOUT",
		apply: func(c *Config, v string) error {
			c.Processor.ShutdownTimeout = v
			return nil
		},
	},
	{
		envVar: "IMQ_CACHE_TTL",
		apply: func(c *Config, v string) error {
			c.Cache.TTL = v
			return nil
		},
	},
	{
		envVar: "IMQ_LOG_LEVEL",
		apply: func(c *Config, v string) error {
			c.Log.Level = v
			return nil
		},
	},
	{
		envVar: "IMQ_LOG_FORMAT",
		apply: func(c *Config, v string) error {
			c.Log.Format = LogFormat(v)
			return nil
		},
	},
}

// applyEnvOverrides modifies config in place with environment variable values.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for _, override := range envOverrides {
		if val := os.Getenv(override.envVar); val != "" {
			if err := override.apply(cfg, val); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", override.envVar, err))
			}
		}
	}
	return errors.Join(errs...)
}

// splitRepo parses an "owner/name" repository reference.
func splitRepo(v string) (owner, repo string, err error) {
	parts := strings.Split(v, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected owner/name, got %q", v)
	}
	return parts[0], parts[1], nil
}

package config

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError contains details about what failed validation.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config.%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// validateConfig checks all config values for validity.
// Returns nil if valid, or joined errors for all validation failures.
func validateConfig(cfg *Config) error {
	var errs []error

	if cfg.GitHub.Token == "" {
		errs = append(errs, &ValidationError{
			Field:   "github.token",
			Value:   "",
			Message: "must be set (IMQ_GITHUB_TOKEN)",
		})
	}

	if cfg.GitHub.Owner == "" {
		errs = append(errs, &ValidationError{
			Field:   "github.owner",
			Value:   cfg.GitHub.Owner,
			Message: "must be set (IMQ_GITHUB_REPO as owner/name)",
		})
	}

	if cfg.GitHub.Repo == "" {
		errs = append(errs, &ValidationError{
			Field:   "github.repo",
			Value:   cfg.GitHub.Repo,
			Message: "must be set (IMQ_GITHUB_REPO as owner/name)",
		})
	}

	if cfg.GitHub.APIBaseURL == "" {
		errs = append(errs, &ValidationError{
			Field:   "github.api_base_url",
			Value:   cfg.GitHub.APIBaseURL,
			Message: "must not be empty",
		})
	}

	if cfg.Queue.TriggerLabel == "" {
		errs = append(errs, &ValidationError{
			Field:   "queue.trigger_label",
			Value:   cfg.Queue.TriggerLabel,
			Message: "must not be empty",
		})
	}

	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "api.port",
			Value:   cfg.API.Port,
			Message: "must be between 1 and 65535",
		})
	}

	if cfg.Database.Path == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.path",
			Value:   cfg.Database.Path,
			Message: "must not be empty",
		})
	}

	if cfg.Database.PoolSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "database.pool_size",
			Value:   cfg.Database.PoolSize,
			Message: "must be at least 1",
		})
	}

	if cfg.Processor.MaxConcurrent < 1 {
		errs = append(errs, &ValidationError{
			Field:   "processor.max_concurrent",
			Value:   cfg.Processor.MaxConcurrent,
			Message: "must be at least 1",
		})
	}

	for _, d := range []struct {
		field string
		value string
	}{
		{"processor.interval", cfg.Processor.Interval},
		{"processor.timeout", cfg.Processor.Timeout},
		{"processor.shutdown_timeout", cfg.Processor.ShutdownTimeout},
		{"cache.ttl", cfg.Cache.TTL},
	} {
		dur, err := time.ParseDuration(d.value)
		if err != nil {
			errs = append(errs, &ValidationError{
				Field:   d.field,
				Value:   d.value,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
			continue
		}
		if dur <= 0 {
			errs = append(errs, &ValidationError{
				Field:   d.field,
				Value:   d.value,
				Message: "must be positive",
			})
		}
	}

	if cfg.Cache.MaxEntries < 1 {
		errs = append(errs, &ValidationError{
			Field:   "cache.max_entries",
			Value:   cfg.Cache.MaxEntries,
			Message: "must be at least 1",
		})
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.Log.Level] {
		errs = append(errs, &ValidationError{
			Field:   "log.level",
			Value:   cfg.Log.Level,
			Message: "must be one of: debug, info, warn, error",
		})
	}

	switch cfg.Log.Format {
	case LogFormatPretty, LogFormatJSON, LogFormatAuto:
		// Valid
	default:
		errs = append(errs, &ValidationError{
			Field:   "log.format",
			Value:   cfg.Log.Format,
			Message: "must be one of: pretty, json, auto",
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

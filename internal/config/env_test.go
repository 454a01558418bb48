package config

import (
	"strings"
	"testing"
)

func TestEnvOverrides_Token(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("IMQ_GITHUB_TOKEN", "ghp_abc123")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GitHub.Token != "ghp_abc123" {
		t.Errorf("expected GitHub.Token to be 'ghp_abc123', got '%s'", cfg.GitHub.Token)
	}
}

func TestEnvOverrides_RepoSplit(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("IMQ_GITHUB_REPO", "octo/widgets")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GitHub.Owner != "octo" {
		t.Errorf("expected GitHub.Owner to be 'octo', got '%s'", cfg.GitHub.Owner)
	}
	if cfg.GitHub.Repo != "widgets" {
		t.Errorf("expected GitHub.Repo to be 'widgets', got '%s'", cfg.GitHub.Repo)
	}
}

func TestEnvOverrides_RepoMalformed(t *testing.T) {
	for _, v := range []string{"octo", "octo/", "/widgets", "a/b/c"} {
		cfg := DefaultConfig()
		t.Setenv("IMQ_GITHUB_REPO", v)

		err := applyEnvOverrides(cfg)
		if err == nil {
			t.Fatalf("expected error for %q", v)
		}
		if !strings.Contains(err.Error(), "IMQ_GITHUB_REPO") {
			t.Errorf("error should name IMQ_GITHUB_REPO, got: %v", err)
		}
	}
}

func TestEnvOverrides_Port(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("IMQ_API_PORT", "9090")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("expected API.Port to be 9090, got %d", cfg.API.Port)
	}
}

func TestEnvOverrides_PortInvalid(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("IMQ_API_PORT", "not-a-port")

	err := applyEnvOverrides(cfg)
	if err == nil {
		t.Fatal("expected error for invalid port")
	}
	if !strings.Contains(err.Error(), "IMQ_API_PORT") {
		t.Errorf("error should name IMQ_API_PORT, got: %v", err)
	}
}

func TestEnvOverrides_EmptyNoChange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queue.TriggerLabel = "original-label"
	cfg.Log.Level = "original-level"
	t.Setenv("IMQ_TRIGGER_LABEL", "")
	t.Setenv("IMQ_LOG_LEVEL", "")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Queue.TriggerLabel != "original-label" {
		t.Errorf("expected TriggerLabel to remain 'original-label', got '%s'", cfg.Queue.TriggerLabel)
	}
	if cfg.Log.Level != "original-level" {
		t.Errorf("expected Log.Level to remain 'original-level', got '%s'", cfg.Log.Level)
	}
}

func TestEnvOverrides_MultipleVars(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("IMQ_TRIGGER_LABEL", "ship-it")
	t.Setenv("IMQ_LOG_LEVEL", "debug")
	t.Setenv("IMQ_LOG_FORMAT", "json")
	t.Setenv("IMQ_PROCESSING_INTERVAL", "10s")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Queue.TriggerLabel != "ship-it" {
		t.Errorf("expected TriggerLabel to be 'ship-it', got '%s'", cfg.Queue.TriggerLabel)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected Log.Level to be 'debug', got '%s'", cfg.Log.Level)
	}
	if cfg.Log.Format != LogFormatJSON {
		t.Errorf("expected Log.Format to be 'json', got '%s'", cfg.Log.Format)
	}
	if cfg.Processor.Interval != "10s" {
		t.Errorf("expected Processor.Interval to be '10s', got '%s'", cfg.Processor.Interval)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.LLM.MaxConcurrent != 2 || cfg.Cache.MaxEntries != 500 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("storage:\n  driver: memory\nllm:\n  maxConcurrent: 4\nquota:\n  warning: 0.5\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LLM_API_KEY", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.LLM.MaxConcurrent != 4 || cfg.Quota.Warning != 0.5 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Quota.Critical != 0.95 {
		t.Fatalf("unset values should keep defaults, got %v", cfg.Quota.Critical)
	}
	if cfg.LLM.APIKey != "secret" {
		t.Fatalf("expected env api key")
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("fallback expected, got %v", got)
	}
	if got := TTLDuration("bogus", time.Minute); got != time.Minute {
		t.Fatalf("fallback expected for bad input, got %v", got)
	}
	if got := TTLDuration("2s", time.Minute); got != 2*time.Second {
		t.Fatalf("parsed value expected, got %v", got)
	}
}

func TestKeys(t *testing.T) {
	if ProgressKey("abc") != "quiz-progress-abc" || NavigationKey("abc") != "quiz-navigation-abc" {
		t.Fatalf("unexpected key format")
	}
}

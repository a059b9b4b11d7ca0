package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.json")

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg.Agent.Name != "SuperAgent" {
		t.Fatalf("expected default agent name, got %q", cfg.Agent.Name)
	}
	if cfg.Scheduler.Workers != 4 || cfg.Scheduler.QueueBuffer != 64 {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.StaleRunningMin != 30 {
		t.Fatalf("expected 30 minute staleness default, got %d", cfg.Scheduler.StaleRunningMin)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.HTTP.Port)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}
}

func TestLoadExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "agent": {"name": "CustomAgent"},
  "scheduler": {"workers": 8},
  "http": {"port": 9090}
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg.Agent.Name != "CustomAgent" {
		t.Fatalf("expected custom name, got %q", cfg.Agent.Name)
	}
	if cfg.Scheduler.Workers != 8 {
		t.Fatalf("expected custom worker count, got %d", cfg.Scheduler.Workers)
	}
	if cfg.HTTP.Port != 9090 {
		t.Fatalf("expected custom port, got %d", cfg.HTTP.Port)
	}
	// Unset fields still get defaults.
	if cfg.Scheduler.QueueBuffer != 64 {
		t.Fatalf("expected default queue buffer, got %d", cfg.Scheduler.QueueBuffer)
	}
	if cfg.Worker.OpenAIModel == "" {
		t.Fatalf("expected default openai model")
	}
}

func TestLoadRejectsMalformedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	if _, err := NewManager(path); err == nil {
		t.Fatalf("expected error for malformed config")
	}
}

func TestUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}

	updated, err := mgr.Update(func(cfg *Config) {
		cfg.Agent.Name = "Renamed"
		cfg.Scheduler.HistoryListLimit = 25
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Agent.Name != "Renamed" || updated.Scheduler.HistoryListLimit != 25 {
		t.Fatalf("update not applied: %+v", updated)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config failed: %v", err)
	}
	if !strings.Contains(string(data), "Renamed") {
		t.Fatalf("update not persisted: %s", data)
	}

	// A fresh manager sees the persisted values.
	again, err := NewManager(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if again.Get().Agent.Name != "Renamed" {
		t.Fatalf("expected persisted name, got %q", again.Get().Agent.Name)
	}
}

func TestAPIKeysFallBackToEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-anthropic")

	mgr, err := NewManager(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg.Worker.OpenAIAPIKey != "sk-test-openai" {
		t.Fatalf("expected env openai key, got %q", cfg.Worker.OpenAIAPIKey)
	}
	if cfg.Worker.AnthropicAPIKey != "sk-test-anthropic" {
		t.Fatalf("expected env anthropic key, got %q", cfg.Worker.AnthropicAPIKey)
	}
}

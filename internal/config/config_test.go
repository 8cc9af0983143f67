package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Executor.HardCeiling != 16*time.Minute {
		t.Errorf("expected 16m hard ceiling, got %s", cfg.Executor.HardCeiling)
	}
	if cfg.Executor.HardCeilingComplex != 30*time.Minute {
		t.Errorf("expected 30m complex ceiling, got %s", cfg.Executor.HardCeilingComplex)
	}
	if cfg.Executor.InactivityWindow != 5*time.Minute {
		t.Errorf("expected 5m inactivity window, got %s", cfg.Executor.InactivityWindow)
	}
	if cfg.Executor.TerminationGrace != 5*time.Second {
		t.Errorf("expected 5s grace, got %s", cfg.Executor.TerminationGrace)
	}
	if cfg.Executor.MaxSessions != 100 {
		t.Errorf("expected 100 max sessions, got %d", cfg.Executor.MaxSessions)
	}
	if cfg.Scheduler.MaxPasses != 10 {
		t.Errorf("expected 10 max passes, got %d", cfg.Scheduler.MaxPasses)
	}
	if cfg.Checkpoint.Interval != 30*time.Second {
		t.Errorf("expected 30s checkpoint interval, got %s", cfg.Checkpoint.Interval)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  command: my-agent
  profiles:
    review:
      model: large
      args: ["--strict"]
executor:
  hard_ceiling: 10m
  max_sessions: 7
scheduler:
  max_passes: 4
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Agent.Command != "my-agent" {
		t.Errorf("expected my-agent, got %s", cfg.Agent.Command)
	}
	if cfg.Executor.HardCeiling != 10*time.Minute {
		t.Errorf("expected 10m, got %s", cfg.Executor.HardCeiling)
	}
	if cfg.Executor.MaxSessions != 7 {
		t.Errorf("expected 7 sessions, got %d", cfg.Executor.MaxSessions)
	}
	if cfg.Scheduler.MaxPasses != 4 {
		t.Errorf("expected 4 passes, got %d", cfg.Scheduler.MaxPasses)
	}

	prof, ok := cfg.Agent.Profiles["review"]
	if !ok {
		t.Fatal("expected review profile")
	}
	if prof.Model != "large" || len(prof.Args) != 1 || prof.Args[0] != "--strict" {
		t.Errorf("unexpected profile: %+v", prof)
	}

	// Unset keys keep their defaults.
	if cfg.Executor.InactivityWindow != 5*time.Minute {
		t.Errorf("expected default inactivity window, got %s", cfg.Executor.InactivityWindow)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

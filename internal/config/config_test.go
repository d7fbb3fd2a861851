package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scan.IntervalMinutes != 15 {
		t.Fatalf("default scan interval = %d, want 15", cfg.Scan.IntervalMinutes)
	}
	if cfg.Scoring.AlertThreshold != 60 || cfg.Scoring.CriticalThreshold != 40 {
		t.Fatalf("default thresholds = %v/%v, want 60/40", cfg.Scoring.AlertThreshold, cfg.Scoring.CriticalThreshold)
	}
	if cfg.Trend.LookbackDays != 7 || cfg.Trend.MinSnapshots != 3 || cfg.Trend.CriticalThresholdPct != 90.0 {
		t.Fatalf("unexpected trend defaults: %+v", cfg.Trend)
	}
	if cfg.Agent.PollInterval != 5*time.Second || cfg.Agent.MaxPolls != 60 {
		t.Fatalf("unexpected agent poll defaults: %+v", cfg.Agent)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
scan:
  intervalMinutes: 30
  concurrency: 2
scoring:
  alertThreshold: 70
agent:
  baseURL: http://agent:8000
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scan.IntervalMinutes != 30 {
		t.Fatalf("scan interval = %d, want 30", cfg.Scan.IntervalMinutes)
	}
	if cfg.Scoring.AlertThreshold != 70 {
		t.Fatalf("alert threshold = %v, want 70", cfg.Scoring.AlertThreshold)
	}
	// Untouched settings keep their defaults.
	if cfg.Scoring.CriticalThreshold != 40 {
		t.Fatalf("critical threshold = %v, want default 40", cfg.Scoring.CriticalThreshold)
	}
	if cfg.Agent.BaseURL != "http://agent:8000" {
		t.Fatalf("agent base URL = %q", cfg.Agent.BaseURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLEETDEX_AGENT_BASE_URL", "http://override:9000")
	t.Setenv("FLEETDEX_SCAN_INTERVAL_MINUTES", "20")
	t.Setenv("FLEETDEX_SELF_HEALING_ENABLED", "true")
	t.Setenv("FLEETDEX_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.BaseURL != "http://override:9000" {
		t.Fatalf("agent base URL = %q", cfg.Agent.BaseURL)
	}
	if cfg.Scan.IntervalMinutes != 20 {
		t.Fatalf("scan interval = %d, want 20", cfg.Scan.IntervalMinutes)
	}
	if !cfg.SelfHeal.Enabled {
		t.Fatal("self healing should be enabled via env")
	}
	if !cfg.Logging.JSON {
		t.Fatal("logging format should be json via env")
	}
}

func TestClampDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
scan:
  concurrency: 0
trend:
  minSnapshots: 1
  lookbackDays: -2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scan.Concurrency != 1 {
		t.Fatalf("concurrency = %d, want clamp to 1", cfg.Scan.Concurrency)
	}
	if cfg.Trend.MinSnapshots != 3 {
		t.Fatalf("min snapshots = %d, want clamp to 3", cfg.Trend.MinSnapshots)
	}
	if cfg.Trend.LookbackDays != 7 {
		t.Fatalf("lookback days = %d, want clamp to 7", cfg.Trend.LookbackDays)
	}
}

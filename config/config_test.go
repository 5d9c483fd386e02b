package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Environment != EnvProd {
		t.Fatalf("expected prod default, got %q", cfg.Environment)
	}
	if cfg.Snapshot.StalenessThreshold != 30*time.Second {
		t.Fatalf("unexpected staleness default: %v", cfg.Snapshot.StalenessThreshold)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	body := []byte("environment: dev\nscan:\n  interval: 5s\n  min_spread_pct: 0.5\n  min_net_pct: 0.1\n  dedup_ttl: 1m\nsnapshot:\n  ttl: 20s\n  staleness_threshold: 10s\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Environment != EnvDev {
		t.Fatalf("expected dev, got %q", cfg.Environment)
	}
	if cfg.Scan.Interval != 5*time.Second {
		t.Fatalf("expected 5s scan interval, got %v", cfg.Scan.Interval)
	}
	if cfg.Scan.MinSpreadPct != 0.5 {
		t.Fatalf("expected 0.5 min spread, got %v", cfg.Scan.MinSpreadPct)
	}
	// Untouched sections keep defaults.
	if cfg.Queue.Workers != 4 {
		t.Fatalf("expected default queue workers, got %d", cfg.Queue.Workers)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "tok-from-env")
	t.Setenv("ARBWATCH_ENV", "staging")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telegram.Token != "tok-from-env" {
		t.Fatalf("expected env token, got %q", cfg.Telegram.Token)
	}
	if cfg.Environment != EnvStaging {
		t.Fatalf("expected staging, got %q", cfg.Environment)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Queue.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for zero workers")
	}

	cfg = Default()
	cfg.Environment = "weird"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown environment")
	}

	cfg = Default()
	cfg.Providers = map[string]ProviderSettings{"kraken": {TakerFeeBps: -1}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for negative fee")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "paper-trader/internal/errors"
)

func TestLoadCreatesTemplatesAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, p := range TemplatePaths(dir) {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected template %s: %v", p, err)
		}
	}

	if cfg.Engine.InitialCapital != 100000 || cfg.Engine.MaxPositions != 5 || cfg.Engine.MinConfidence != 60 {
		t.Fatalf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.PriceSource.Timeout != 5*time.Second || cfg.PriceSource.CacheTTL != 6*time.Hour {
		t.Fatalf("unexpected durations %+v", cfg.PriceSource)
	}
	if cfg.Storage.DBPath != filepath.Join(dir, "paper_trading.db") {
		t.Fatalf("db path not resolved: %s", cfg.Storage.DBPath)
	}
	if cfg.Schedule.Cron != DefaultCron {
		t.Fatalf("cron = %q", cfg.Schedule.Cron)
	}
}

func TestLoadReadsFileValues(t *testing.T) {
	dir := t.TempDir()
	body := `
[engine]
initial_capital = 250000.0
max_positions = 3
max_position_value = 50000.0
watchlist = ["SBIN"]

[price_source]
mode = "simulated"
seed = 42
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.InitialCapital != 250000 || cfg.Engine.MaxPositions != 3 || cfg.Engine.MaxPositionValue != 50000 {
		t.Fatalf("file values not applied: %+v", cfg.Engine)
	}
	if len(cfg.Engine.Watchlist) != 1 || cfg.Engine.Watchlist[0] != "SBIN" {
		t.Fatalf("watchlist = %v", cfg.Engine.Watchlist)
	}
	if cfg.PriceSource.Mode != ModeSimulated || cfg.PriceSource.Seed != 42 {
		t.Fatalf("price source = %+v", cfg.PriceSource)
	}
	// Untouched keys keep defaults.
	if cfg.Engine.CommissionPct != 0.1 {
		t.Fatalf("commission default lost: %v", cfg.Engine.CommissionPct)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PAPER_TRADER_ENGINE_MIN_CONFIDENCE", "70")
	t.Setenv("ZERODHA_API_KEY", "key-from-env")
	t.Setenv("PAPER_TRADER_VAULT_KEY", "vault-pass")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.MinConfidence != 70 {
		t.Errorf("min_confidence = %v", cfg.Engine.MinConfidence)
	}
	if cfg.Credentials.Zerodha.APIKey != "key-from-env" {
		t.Errorf("api key = %q", cfg.Credentials.Zerodha.APIKey)
	}
	if cfg.Credentials.Vault.Passphrase != "vault-pass" {
		t.Errorf("vault passphrase not applied")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"capital":      func(c *Config) { c.Engine.InitialCapital = 0 },
		"risk":         func(c *Config) { c.Engine.RiskPerTradePct = 150 },
		"commission":   func(c *Config) { c.Engine.CommissionPct = -1 },
		"positions":    func(c *Config) { c.Engine.MaxPositions = 0 },
		"confidence":   func(c *Config) { c.Engine.MinConfidence = 101 },
		"min stop":     func(c *Config) { c.Engine.MinStopPct = 0 },
		"utilization":  func(c *Config) { c.Engine.MaxCashUtilization = 1.5 },
		"position cap": func(c *Config) { c.Engine.MaxPositionValue = -1 },
		"holding":      func(c *Config) { c.Engine.MaxHoldingDays = 0 },
		"watchlist":    func(c *Config) { c.Engine.Watchlist = nil },
		"mode":         func(c *Config) { c.PriceSource.Mode = "paper" },
		"cron":         func(c *Config) { c.Schedule.Cron = "every now and then" },
		"notify":       func(c *Config) { c.Notifications.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			if !apperrors.Is(err, apperrors.ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadFailsOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[engine]\nmax_positions = 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(dir)
	if !apperrors.Is(err, apperrors.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

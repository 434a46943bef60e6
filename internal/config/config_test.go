package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: test\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Name != "test" {
		t.Fatalf("app.name = %q", cfg.App.Name)
	}
	if cfg.Refresh.Freshness != 24*time.Hour || cfg.Refresh.BatchSize != 10 {
		t.Fatalf("refresh defaults wrong: %+v", cfg.Refresh)
	}
	if cfg.Sources.BrickEconomy.RequestsPerMinute != 4 || cfg.Sources.BrickEconomy.RequestsPerDay != 100 {
		t.Fatalf("conservative source defaults wrong: %+v", cfg.Sources.BrickEconomy)
	}
	if cfg.Sources.Brickset.RequestsPerDay != 1000 {
		t.Fatalf("permissive source defaults wrong: %+v", cfg.Sources.Brickset)
	}
	if len(cfg.Sources.Order) != 4 {
		t.Fatalf("source order = %v", cfg.Sources.Order)
	}
	if cfg.Sources.BrickEconomy.Enabled() {
		t.Fatal("source without api key must be disabled")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PRICEWATCH_SOURCES_BRICKSET_API_KEY", "env-key")
	t.Setenv("PRICEWATCH_REFRESH_BATCH_SIZE", "3")

	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load without config file: %v", err)
	}
	if !cfg.Sources.Brickset.Enabled() || cfg.Sources.Brickset.APIKey != "env-key" {
		t.Fatalf("api key override not applied: %+v", cfg.Sources.Brickset)
	}
	if cfg.Refresh.BatchSize != 3 {
		t.Fatalf("batch size override not applied: %d", cfg.Refresh.BatchSize)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("explicit config path that does not exist should fail")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Database:  DatabaseConfig{Driver: "sqlite"},
			Scheduler: SchedulerConfig{Interval: time.Hour},
			Refresh:   RefreshConfig{BatchSize: 5},
			Pricing:   PricingConfig{TrendWindowDays: 7, ForecastDays: 30},
			Alerting:  AlertingConfig{Workers: 1},
			Export:    ExportConfig{MaxDataPoints: 10},
			Sources:   SourcesConfig{Order: []string{"brickset"}},
		}
	}

	ok := base()
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(c *Config){
		"postgres without dsn": func(c *Config) { c.Database.Driver = "postgres" },
		"unknown driver":       func(c *Config) { c.Database.Driver = "mysql" },
		"zero batch":           func(c *Config) { c.Refresh.BatchSize = 0 },
		"unknown source":       func(c *Config) { c.Sources.Order = []string{"bricklink"} },
		"telegram no token":    func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"zero interval":        func(c *Config) { c.Scheduler.Interval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"collectible-pricing/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects postgres (dsn) or sqlite (path).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SourceConfig holds credentials and limits for one external source.
// A source is active only when its api key is set.
type SourceConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	RequestsPerDay    int           `mapstructure:"requests_per_day"`
	Currency          string        `mapstructure:"currency"`
	Country           string        `mapstructure:"country"`
}

// Enabled reports whether credentials are present.
func (s SourceConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// SourcesConfig lists every known source and the order they are consulted in.
type SourcesConfig struct {
	Order        []string     `mapstructure:"order"`
	BrickEconomy SourceConfig `mapstructure:"brickeconomy"`
	Brickset     SourceConfig `mapstructure:"brickset"`
	Rebrickable  SourceConfig `mapstructure:"rebrickable"`
	BrickOwl     SourceConfig `mapstructure:"brickowl"`
}

// ByName returns the config of a named source.
func (s SourcesConfig) ByName(name string) (SourceConfig, bool) {
	switch strings.ToLower(name) {
	case "brickeconomy":
		return s.BrickEconomy, true
	case "brickset":
		return s.Brickset, true
	case "rebrickable":
		return s.Rebrickable, true
	case "brickowl":
		return s.BrickOwl, true
	default:
		return SourceConfig{}, false
	}
}

// RefreshConfig bounds bulk refresh volume.
type RefreshConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	InterBatchDelay time.Duration `mapstructure:"inter_batch_delay"`
	ItemTimeout     time.Duration `mapstructure:"item_timeout"`
	Freshness       time.Duration `mapstructure:"freshness"`
}

// PricingConfig sets the estimation windows.
type PricingConfig struct {
	Lookback        time.Duration `mapstructure:"lookback"`
	TrendWindowDays int           `mapstructure:"trend_window_days"`
	ForecastDays    int           `mapstructure:"forecast_days"`
}

// AlertingConfig defines alert evaluation and routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	DedupWindow time.Duration  `mapstructure:"dedup_window"`
	Workers     int            `mapstructure:"workers"`
	QueueSize   int            `mapstructure:"queue_size"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	BotToken   string            `mapstructure:"bot_token"`
	ChatID     string            `mapstructure:"chat_id"`
	APIBase    string            `mapstructure:"api_base"`
	Recipients map[string]string `mapstructure:"recipients"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/pricewatch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70726963))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("sources.order", []string{"brickeconomy", "brickset", "rebrickable", "brickowl"})
	setSourceDefaults(v, "brickeconomy", "https://www.brickeconomy.com/api/v1", 4, 100)
	setSourceDefaults(v, "brickset", "https://brickset.com/api/v3.asmx", 10, 1000)
	setSourceDefaults(v, "rebrickable", "https://rebrickable.com/api/v3/lego", 10, 1000)
	setSourceDefaults(v, "brickowl", "https://api.brickowl.com/v1", 10, 1000)
	v.SetDefault("sources.brickowl.country", "US")

	v.SetDefault("refresh.batch_size", 10)
	v.SetDefault("refresh.inter_batch_delay", "2s")
	v.SetDefault("refresh.item_timeout", "60s")
	v.SetDefault("refresh.freshness", "24h")

	v.SetDefault("pricing.lookback", "2160h")
	v.SetDefault("pricing.trend_window_days", 30)
	v.SetDefault("pricing.forecast_days", 90)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.dedup_window", "24h")
	v.SetDefault("alerting.workers", 2)
	v.SetDefault("alerting.queue_size", 64)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 5000)
}

func setSourceDefaults(v *viper.Viper, name, baseURL string, perMinute, perDay int) {
	v.SetDefault("sources."+name+".api_key", "")
	v.SetDefault("sources."+name+".base_url", baseURL)
	v.SetDefault("sources."+name+".timeout", "15s")
	v.SetDefault("sources."+name+".requests_per_minute", perMinute)
	v.SetDefault("sources."+name+".requests_per_day", perDay)
	v.SetDefault("sources."+name+".currency", "USD")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "":
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Refresh.BatchSize <= 0 {
		return fmt.Errorf("refresh.batch_size must be greater than zero")
	}
	if c.Refresh.InterBatchDelay < 0 {
		return fmt.Errorf("refresh.inter_batch_delay cannot be negative")
	}
	if c.Refresh.Freshness < 0 {
		return fmt.Errorf("refresh.freshness cannot be negative")
	}
	if c.Pricing.TrendWindowDays <= 0 {
		return fmt.Errorf("pricing.trend_window_days must be greater than zero")
	}
	if c.Pricing.ForecastDays <= 0 {
		return fmt.Errorf("pricing.forecast_days must be greater than zero")
	}
	for _, name := range c.Sources.Order {
		src, ok := c.Sources.ByName(name)
		if !ok {
			return fmt.Errorf("sources.order contains unknown source %q", name)
		}
		if src.RequestsPerMinute < 0 || src.RequestsPerDay < 0 {
			return fmt.Errorf("sources.%s limits cannot be negative", name)
		}
	}
	if c.Alerting.Workers <= 0 {
		return fmt.Errorf("alerting.workers must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" && len(c.Alerting.Telegram.Recipients) == 0 {
			return fmt.Errorf("alerting.telegram.chat_id 或 recipients 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"crypto-sentinel/internal/logging"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects the entry store backend.
type StorageConfig struct {
	Driver         string `mapstructure:"driver"`
	DataDir        string `mapstructure:"data_dir"`
	FileName       string `mapstructure:"file_name"`
	ViewCacheItems int64  `mapstructure:"view_cache_items"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs sync cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	SyncOnStart     bool          `mapstructure:"sync_on_start"`
}

// SourcesConfig groups the three upstream feeds.
type SourcesConfig struct {
	CMC    SourceConfig `mapstructure:"cmc"`
	Ourbit SourceConfig `mapstructure:"ourbit"`
	MEXC   SourceConfig `mapstructure:"mexc"`
}

// SourceConfig captures connectivity for one upstream feed.
type SourceConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	UserAgent         string        `mapstructure:"user_agent"`
	Limit             int           `mapstructure:"limit"`
}

// AlertingConfig defines new-listing notification routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	Channels  []string       `mapstructure:"channels"`
	MaxPerRun int            `mapstructure:"max_per_run"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	ChartWidth  int `mapstructure:"chart_width"`
	ChartHeight int `mapstructure:"chart_height"`
	ShowLimit   int `mapstructure:"show_limit"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
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
	v.SetDefault("app.name", "crypto-sentinel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.file_name", "entries.json")
	v.SetDefault("storage.view_cache_items", 100000)

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63727973))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.sync_on_start", true)

	v.SetDefault("sources.cmc.enabled", true)
	v.SetDefault("sources.cmc.base_url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("sources.ourbit.enabled", true)
	v.SetDefault("sources.ourbit.base_url", "https://www.ourbit.com")
	v.SetDefault("sources.mexc.enabled", true)
	v.SetDefault("sources.mexc.base_url", "https://www.mexc.com")
	for _, name := range []string{"cmc", "ourbit", "mexc"} {
		v.SetDefault("sources."+name+".request_timeout", "15s")
		v.SetDefault("sources."+name+".requests_per_second", 2.0)
		v.SetDefault("sources."+name+".burst", 1)
		v.SetDefault("sources."+name+".user_agent", "crypto-sentinel/1.0")
		v.SetDefault("sources."+name+".limit", 50)
		v.SetDefault("sources."+name+".api_key", "")
	}

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.max_per_run", 20)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.chart_width", 1280)
	v.SetDefault("export.chart_height", 720)
	v.SetDefault("export.show_limit", 20)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
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
	switch strings.ToLower(c.Storage.Driver) {
	case DriverFile:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir must be set for the file driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	for name, src := range c.Sources.ByName() {
		if !src.Enabled {
			continue
		}
		if src.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url must be set", name)
		}
		if src.RequestsPerSecond < 0 {
			return fmt.Errorf("sources.%s.requests_per_second cannot be negative", name)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ByName maps config keys to source settings.
func (s SourcesConfig) ByName() map[string]SourceConfig {
	return map[string]SourceConfig{
		"cmc":    s.CMC,
		"ourbit": s.Ourbit,
		"mexc":   s.MEXC,
	}
}

// ResolveShowLimit returns either the CLI override or config default.
func (c *Config) ResolveShowLimit(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.ShowLimit
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultSymbols is the tracked symbol universe when none is configured.
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT", "SOLUSDT",
	"DOGEUSDT", "XRPUSDT", "DOTUSDT", "MATICUSDT", "LTCUSDT",
}

// Config represents the complete application configuration
type Config struct {
	Binance   BinanceConfig   `mapstructure:"binance"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BinanceConfig holds the price source configuration
type BinanceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Symbols []string      `mapstructure:"symbols"`
}

// SchedulerConfig controls the fetch cycle cadence
type SchedulerConfig struct {
	Period         time.Duration `mapstructure:"period"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	MaxConcurrency int           `mapstructure:"max_concurrency"` // 0 = one goroutine per symbol
}

// NotifyConfig sizes the notification queue
type NotifyConfig struct {
	QueueSize int `mapstructure:"queue_size"`
	Workers   int `mapstructure:"workers"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Driver        string `mapstructure:"driver"` // sqlite, postgres or mongo
	DBPath        string `mapstructure:"db_path"`
	DSN           string `mapstructure:"dsn"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

// APIConfig holds the HTTP API configuration
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i, s := range cfg.Binance.Symbols {
		cfg.Binance.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.base_url", "https://api.binance.com")
	v.SetDefault("binance.timeout", "5s")
	v.SetDefault("binance.symbols", DefaultSymbols)

	v.SetDefault("scheduler.period", "1s")
	v.SetDefault("scheduler.initial_delay", "5s")
	v.SetDefault("scheduler.max_concurrency", 0)

	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.workers", 2)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", "./data/pricewatch.db")
	v.SetDefault("storage.mongo_database", "pricewatch")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Binance.BaseURL == "" {
		return fmt.Errorf("binance.base_url is required")
	}
	if c.Binance.Timeout <= 0 {
		return fmt.Errorf("binance.timeout must be positive")
	}
	if len(c.Binance.Symbols) == 0 {
		return fmt.Errorf("binance.symbols must contain at least one symbol")
	}
	seen := make(map[string]bool, len(c.Binance.Symbols))
	for _, s := range c.Binance.Symbols {
		if s == "" {
			return fmt.Errorf("binance.symbols must not contain empty entries")
		}
		if seen[s] {
			return fmt.Errorf("binance.symbols contains duplicate %s", s)
		}
		seen[s] = true
	}

	if c.Scheduler.Period < 100*time.Millisecond {
		return fmt.Errorf("scheduler.period must be at least 100ms")
	}
	if c.Scheduler.InitialDelay < 0 {
		return fmt.Errorf("scheduler.initial_delay must not be negative")
	}
	if c.Scheduler.MaxConcurrency < 0 {
		return fmt.Errorf("scheduler.max_concurrency must not be negative")
	}

	if c.Notify.QueueSize < 1 {
		return fmt.Errorf("notify.queue_size must be at least 1")
	}
	if c.Notify.Workers < 1 {
		return fmt.Errorf("notify.workers must be at least 1")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("storage.mongo_uri is required for the mongo driver")
		}
		if c.Storage.MongoDatabase == "" {
			return fmt.Errorf("storage.mongo_database is required for the mongo driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres, mongo")
	}

	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required when the api is enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Concurrency returns the fan-out width for one cycle.
func (c *Config) Concurrency() int {
	if c.Scheduler.MaxConcurrency > 0 {
		return c.Scheduler.MaxConcurrency
	}
	return len(c.Binance.Symbols)
}

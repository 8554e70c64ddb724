package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func validConfig() *Config {
	return &Config{
		Binance: BinanceConfig{
			BaseURL: "https://api.binance.com",
			Timeout: 5 * time.Second,
			Symbols: []string{"BTCUSDT", "ETHUSDT"},
		},
		Scheduler: SchedulerConfig{Period: time.Second, InitialDelay: 5 * time.Second},
		Notify:    NotifyConfig{QueueSize: 10, Workers: 1},
		Storage:   StorageConfig{Driver: "sqlite", DBPath: ":memory:"},
		API:       APIConfig{Enabled: true, ListenAddr: ":8080"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
binance:
  timeout: 3s
  symbols:
    - btcusdt
    - ETHUSDT

scheduler:
  period: 2s
  initial_delay: 0s
  max_concurrency: 4

notify:
  queue_size: 50
  workers: 3

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  driver: sqlite
  db_path: "./data/test.db"

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scheduler.Period != 2*time.Second {
		t.Errorf("Unexpected period: %v", cfg.Scheduler.Period)
	}
	if cfg.Scheduler.InitialDelay != 0 {
		t.Errorf("Unexpected initial delay: %v", cfg.Scheduler.InitialDelay)
	}
	if cfg.Binance.Timeout != 3*time.Second {
		t.Errorf("Unexpected timeout: %v", cfg.Binance.Timeout)
	}
	if len(cfg.Binance.Symbols) != 2 || cfg.Binance.Symbols[0] != "BTCUSDT" {
		t.Errorf("Unexpected symbols: %v", cfg.Binance.Symbols)
	}
	if cfg.Binance.BaseURL != "https://api.binance.com" {
		t.Errorf("default base url not applied: %q", cfg.Binance.BaseURL)
	}
	if cfg.Concurrency() != 4 {
		t.Errorf("Concurrency() = %d, want 4", cfg.Concurrency())
	}
	if cfg.Telegram.MaxRetries != 3 {
		t.Errorf("default telegram retries not applied: %d", cfg.Telegram.MaxRetries)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scheduler.Period != time.Second {
		t.Errorf("default period = %v, want 1s", cfg.Scheduler.Period)
	}
	if cfg.Scheduler.InitialDelay != 5*time.Second {
		t.Errorf("default initial delay = %v, want 5s", cfg.Scheduler.InitialDelay)
	}
	if len(cfg.Binance.Symbols) != 10 {
		t.Errorf("default symbols = %d, want 10", len(cfg.Binance.Symbols))
	}
	if cfg.Concurrency() != 10 {
		t.Errorf("Concurrency() = %d, want 10", cfg.Concurrency())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PRICEWATCH_SCHEDULER_PERIOD", "3s")
	t.Setenv("PRICEWATCH_STORAGE_DRIVER", "postgres")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scheduler.Period != 3*time.Second {
		t.Errorf("env period = %v, want 3s", cfg.Scheduler.Period)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("env driver = %q", cfg.Storage.Driver)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing telegram token when enabled", func(c *Config) {
			c.Telegram = TelegramConfig{Enabled: true, ChatID: "1"}
		}},
		{"no symbols", func(c *Config) { c.Binance.Symbols = nil }},
		{"duplicate symbols", func(c *Config) { c.Binance.Symbols = []string{"BTCUSDT", "BTCUSDT"} }},
		{"period too short", func(c *Config) { c.Scheduler.Period = 10 * time.Millisecond }},
		{"negative initial delay", func(c *Config) { c.Scheduler.InitialDelay = -time.Second }},
		{"zero timeout", func(c *Config) { c.Binance.Timeout = 0 }},
		{"zero queue", func(c *Config) { c.Notify.QueueSize = 0 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"mongo without uri", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

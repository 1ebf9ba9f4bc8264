package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"densityflow/models"
)

type Config struct {
	Densityflow DensityflowConfig `yaml:"densityflow"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Reader      ReaderConfig      `yaml:"reader"`
	Scanner     ScannerConfig     `yaml:"scanner"`
	Density     DensityConfig     `yaml:"density"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Source      SourceConfig      `yaml:"source"`
	Writer      WriterConfig      `yaml:"writer"`
	Instruments []models.Instrument `yaml:"instruments"`
}

type DensityflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatchEnabled bool          `yaml:"cloudwatch_enabled"`
	Namespace         string        `yaml:"namespace"`
	Region            string        `yaml:"region"`
	ReportInterval    time.Duration `yaml:"report_interval"`
}

type ChannelsConfig struct {
	RawBuffer   int `yaml:"raw_buffer"`
	AlertBuffer int `yaml:"alert_buffer"`
	ErrorBuffer int `yaml:"error_buffer"`
}

type ReaderConfig struct {
	Timeout   time.Duration   `yaml:"timeout"`
	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type ScannerConfig struct {
	IntervalMs         int           `yaml:"interval_ms"`
	PriorityIntervalMs int           `yaml:"priority_interval_ms"`
	EvictionInterval   time.Duration `yaml:"eviction_interval"`
}

type DensityConfig struct {
	DistancePct     float64  `yaml:"distance_pct"`
	MinSizeUSD      float64  `yaml:"min_size_usd"`
	AlertsEnabled   bool     `yaml:"alerts_enabled"`
	PrioritySymbols []string `yaml:"priority_symbols"`
}

type DedupConfig struct {
	PriceBucketPct float64       `yaml:"price_bucket_pct"`
	SizeStepFactor float64       `yaml:"size_step_factor"`
	Cooldown       time.Duration `yaml:"cooldown"`
	IdleTTL        time.Duration `yaml:"idle_ttl"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
}

type BinanceSourceConfig struct {
	RestURL       string        `yaml:"rest_url"`
	WsURL         string        `yaml:"ws_url"`
	SnapshotLimit int           `yaml:"snapshot_limit"`
	KeepAlive     time.Duration `yaml:"keep_alive"`
}

type WriterConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled           bool          `yaml:"enabled"`
	APIURL            string        `yaml:"api_url"`
	Token             string        `yaml:"token"`
	ChatID            string        `yaml:"chat_id"`
	Timeout           time.Duration `yaml:"timeout"`
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	BurstSize         int           `yaml:"burst_size"`
}

// LoadConfig reads and validates the yaml configuration. Secrets can be
// supplied through the environment instead of the file: TELEGRAM_BOT_TOKEN
// and TELEGRAM_CHAT_ID override their yaml counterparts.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		config.Writer.Telegram.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		config.Writer.Telegram.ChatID = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		if getAppEnvironment() == environmentDevelopment {
			cfg.Logging.Format = "text"
		} else {
			cfg.Logging.Format = "json"
		}
	}
	if cfg.Metrics.ReportInterval <= 0 {
		cfg.Metrics.ReportInterval = 30 * time.Second
	}
	if cfg.Reader.Timeout <= 0 {
		cfg.Reader.Timeout = 10 * time.Second
	}
	if cfg.Reader.Retry.MaxAttempts <= 0 {
		cfg.Reader.Retry.MaxAttempts = 10
	}
	if cfg.Reader.Retry.BaseDelay <= 0 {
		cfg.Reader.Retry.BaseDelay = time.Second
	}
	if cfg.Reader.Retry.MaxDelay <= 0 {
		cfg.Reader.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Reader.RateLimit.RequestsPerSecond <= 0 {
		cfg.Reader.RateLimit.RequestsPerSecond = 2
	}
	if cfg.Reader.RateLimit.BurstSize <= 0 {
		cfg.Reader.RateLimit.BurstSize = 5
	}
	if cfg.Scanner.IntervalMs <= 0 {
		cfg.Scanner.IntervalMs = 1000
	}
	if cfg.Scanner.PriorityIntervalMs <= 0 {
		cfg.Scanner.PriorityIntervalMs = 250
	}
	if cfg.Scanner.EvictionInterval <= 0 {
		cfg.Scanner.EvictionInterval = time.Minute
	}
	if cfg.Source.Binance.RestURL == "" {
		cfg.Source.Binance.RestURL = "https://fapi.binance.com"
	}
	if cfg.Source.Binance.WsURL == "" {
		cfg.Source.Binance.WsURL = "wss://fstream.binance.com/stream"
	}
	if cfg.Source.Binance.SnapshotLimit <= 0 {
		cfg.Source.Binance.SnapshotLimit = 1000
	}
	if cfg.Source.Binance.KeepAlive <= 0 {
		cfg.Source.Binance.KeepAlive = 20 * time.Second
	}
	if cfg.Writer.Telegram.APIURL == "" {
		cfg.Writer.Telegram.APIURL = "https://api.telegram.org"
	}
	if cfg.Writer.Telegram.Timeout <= 0 {
		cfg.Writer.Telegram.Timeout = 10 * time.Second
	}
	if cfg.Writer.Telegram.MessagesPerSecond <= 0 {
		cfg.Writer.Telegram.MessagesPerSecond = 1
	}
	if cfg.Writer.Telegram.BurstSize <= 0 {
		cfg.Writer.Telegram.BurstSize = 5
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Densityflow.Name == "" {
		return fmt.Errorf("densityflow.name is required")
	}
	if cfg.Densityflow.Version == "" {
		return fmt.Errorf("densityflow.version is required")
	}
	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.AlertBuffer <= 0 {
		return fmt.Errorf("channels.alert_buffer must be greater than 0")
	}
	if cfg.Channels.ErrorBuffer <= 0 {
		return fmt.Errorf("channels.error_buffer must be greater than 0")
	}
	if len(cfg.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	seen := make(map[string]struct{}, len(cfg.Instruments))
	for i, inst := range cfg.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instruments[%d].symbol is required", i)
		}
		if _, dup := seen[inst.Symbol]; dup {
			return fmt.Errorf("duplicate instrument symbol '%s'", inst.Symbol)
		}
		seen[inst.Symbol] = struct{}{}
	}
	if cfg.Density.DistancePct <= 0 {
		return fmt.Errorf("density.distance_pct must be greater than 0")
	}
	if cfg.Density.MinSizeUSD < 0 {
		return fmt.Errorf("density.min_size_usd must not be negative")
	}
	if cfg.Writer.Telegram.Enabled {
		if cfg.Writer.Telegram.Token == "" {
			return fmt.Errorf("writer.telegram.token (or TELEGRAM_BOT_TOKEN) is required when telegram is enabled")
		}
		if cfg.Writer.Telegram.ChatID == "" {
			return fmt.Errorf("writer.telegram.chat_id (or TELEGRAM_CHAT_ID) is required when telegram is enabled")
		}
	}
	return nil
}

// Symbols returns the configured instrument symbols.
func (c *Config) Symbols() []string {
	symbols := make([]string, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		symbols = append(symbols, inst.Symbol)
	}
	return symbols
}

// Package config loads application configuration and initializes logging.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	API       APIConfig       `mapstructure:"api"`
	Round     RoundConfig     `mapstructure:"round"`
	PriceFeed PriceFeedConfig `mapstructure:"price_feed"`
	Kline     KlineConfig     `mapstructure:"kline"`
	Retention RetentionConfig `mapstructure:"retention"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings. Redis is optional; an empty address
// disables the kline cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// RoundConfig contains round lifecycle settings.
type RoundConfig struct {
	DurationMin      int     `mapstructure:"duration_min"`
	LockWindowMin    int     `mapstructure:"lock_window_min"`
	FlatThresholdPct float64 `mapstructure:"flat_threshold_pct"`
	PriceRefreshMs   int     `mapstructure:"price_refresh_ms"`
	PriceStaleMs     int     `mapstructure:"price_stale_ms"`
	AdvanceSec       int     `mapstructure:"advance_sec"`
	SweepMaxRows     int     `mapstructure:"sweep_max_rows"`
}

// PriceFeedConfig contains the live WebSocket price feed settings.
type PriceFeedConfig struct {
	WSURL string `mapstructure:"ws_url"`
	Feed  string `mapstructure:"feed"` // "allMids", "trades", or a raw channel
	Coin  string `mapstructure:"coin"`
}

// KlineConfig contains candle fetcher settings.
type KlineConfig struct {
	InfoURL           string   `mapstructure:"info_url"`
	DefaultIntervals  []string `mapstructure:"default_intervals"`
	DefaultLimit      int      `mapstructure:"default_limit"`
	MaxLimit          int      `mapstructure:"max_limit"`
	CacheSec          int      `mapstructure:"cache_sec"`
	TimeoutSec        int      `mapstructure:"timeout_sec"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
}

// RetentionConfig contains per-table retention limits.
type RetentionConfig struct {
	FeedLimit       int `mapstructure:"feed_limit"`
	VerdictLimit    int `mapstructure:"verdict_limit"`
	JudgmentLimit   int `mapstructure:"judgment_limit"`
	RoundLimit      int `mapstructure:"round_limit"`
	ScoreEventLimit int `mapstructure:"score_event_limit"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	SignatureWindowSec int    `mapstructure:"signature_window_sec"`
	AdminAPIToken      string `mapstructure:"admin_api_token"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PREDICTARENA")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "PredictArena")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.url", "postgres://postgres@localhost:5432/predictarena?sslmode=disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults (empty addr disables the kline cache)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	// Round defaults
	v.SetDefault("round.duration_min", 30)
	v.SetDefault("round.lock_window_min", 10)
	v.SetDefault("round.flat_threshold_pct", 0.2)
	v.SetDefault("round.price_refresh_ms", 10000)
	v.SetDefault("round.price_stale_ms", 30000)
	v.SetDefault("round.advance_sec", 5)
	v.SetDefault("round.sweep_max_rows", 50)

	// Price feed defaults
	v.SetDefault("price_feed.ws_url", "wss://api.hyperliquid.xyz/ws")
	v.SetDefault("price_feed.feed", "allMids")
	v.SetDefault("price_feed.coin", "BTC")

	// Kline defaults
	v.SetDefault("kline.info_url", "")
	v.SetDefault("kline.default_intervals", []string{"1m", "5m", "1h"})
	v.SetDefault("kline.default_limit", 200)
	v.SetDefault("kline.max_limit", 500)
	v.SetDefault("kline.cache_sec", 15)
	v.SetDefault("kline.timeout_sec", 6)
	v.SetDefault("kline.requests_per_second", 5)

	// Retention defaults
	v.SetDefault("retention.feed_limit", 200)
	v.SetDefault("retention.verdict_limit", 200)
	v.SetDefault("retention.judgment_limit", 800)
	v.SetDefault("retention.round_limit", 200)
	v.SetDefault("retention.score_event_limit", 1000)

	// Auth defaults
	v.SetDefault("auth.signature_window_sec", 300)
	v.SetDefault("auth.admin_api_token", "")
}

// Validate checks configuration invariants that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Round.DurationMin <= 0 {
		return fmt.Errorf("round.duration_min must be positive")
	}
	if c.Round.LockWindowMin <= 0 || c.Round.LockWindowMin >= c.Round.DurationMin {
		return fmt.Errorf("round.lock_window_min must be positive and shorter than the round duration")
	}
	if c.Round.FlatThresholdPct < 0 {
		return fmt.Errorf("round.flat_threshold_pct must not be negative")
	}
	if c.PriceFeed.WSURL == "" {
		return fmt.Errorf("price_feed.ws_url is required")
	}
	return nil
}

// PriceRefresh returns the meta price refresh interval.
func (c *RoundConfig) PriceRefresh() time.Duration {
	return time.Duration(c.PriceRefreshMs) * time.Millisecond
}

// PriceStale returns the price staleness cutoff.
func (c *RoundConfig) PriceStale() time.Duration {
	return time.Duration(c.PriceStaleMs) * time.Millisecond
}

// Duration returns the round duration.
func (c *RoundConfig) Duration() time.Duration {
	return time.Duration(c.DurationMin) * time.Minute
}

// LockWindow returns the lock window duration.
func (c *RoundConfig) LockWindow() time.Duration {
	return time.Duration(c.LockWindowMin) * time.Minute
}

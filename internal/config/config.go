// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig governs cycle selection and fan-out behavior.
type SchedulerConfig struct {
	ChunkSize            int `mapstructure:"chunk_size"`
	CrawlTimeoutSeconds  int `mapstructure:"crawl_timeout_seconds"`
	CheckIntervalSeconds int `mapstructure:"check_interval_seconds"`
}

// CrawlTimeout returns the cycle deadline as a duration.
func (c SchedulerConfig) CrawlTimeout() time.Duration {
	return time.Duration(c.CrawlTimeoutSeconds) * time.Second
}

// CheckInterval returns the idle pause between cycles as a duration.
func (c SchedulerConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// CrawlConfig configures the fetch+extract pipeline.
type CrawlConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-fetch deadline as a duration.
func (c CrawlConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ThrottleConfig sets the default per-host request budget, applied to hosts
// without a tuned frequency.
type ThrottleConfig struct {
	DefaultN               int `mapstructure:"default_n"`
	DefaultIntervalSeconds int `mapstructure:"default_interval_seconds"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CacheConfig tunes the task-listing cache.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// TTL returns the listing cache expiry as a duration; zero disables expiry.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.chunk_size", 20)
	v.SetDefault("scheduler.crawl_timeout_seconds", 60)
	v.SetDefault("scheduler.check_interval_seconds", 60)
	v.SetDefault("crawl.user_agent", "pagewatch-bot/0.1")
	v.SetDefault("crawl.timeout_seconds", 15)
	v.SetDefault("throttle.default_n", 1)
	v.SetDefault("throttle.default_interval_seconds", 1)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("cache.ttl_seconds", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.ChunkSize <= 0 {
		return fmt.Errorf("scheduler.chunk_size must be > 0")
	}
	if c.Scheduler.CrawlTimeoutSeconds <= 0 {
		return fmt.Errorf("scheduler.crawl_timeout_seconds must be > 0")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.timeout_seconds must be > 0")
	}
	if c.Throttle.DefaultN <= 0 || c.Throttle.DefaultIntervalSeconds <= 0 {
		return fmt.Errorf("throttle defaults must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

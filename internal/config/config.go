package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Usage         UsageConfig         `mapstructure:"usage_tracking"`
	Enforcement   EnforcementConfig   `mapstructure:"enforcement"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Authorization AuthorizationConfig `mapstructure:"authorization"`
}

// ServerConfig defines listener ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt", "sqlite" or "redis"
	Path  string      `mapstructure:"path"` // file path for bolt and sqlite
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// UsageConfig defines usage tracking and day rollover settings
type UsageConfig struct {
	DailyResetTime       string `mapstructure:"daily_reset_time"`
	HistoryRetentionDays int    `mapstructure:"history_retention_days"`
	Timezone             string `mapstructure:"timezone"`
	PollInterval         string `mapstructure:"poll_interval"`
	Source               string `mapstructure:"source"` // "none" or "redis"
	SourceKey            string `mapstructure:"source_key"`
}

// EnforcementConfig defines how limit state turns into restrictions
type EnforcementConfig struct {
	WarningThreshold string `mapstructure:"warning_threshold"`
	Evaluator        string `mapstructure:"evaluator"` // "builtin" or "opa"
	OPAPolicyDir     string `mapstructure:"opa_policy_dir"`
	Actuator         string `mapstructure:"actuator"` // "log" or "redis"
	RedisBlockedKey  string `mapstructure:"redis_blocked_key"`
	RedisChannel     string `mapstructure:"redis_channel"`
}

// NotificationsConfig defines notification delivery
type NotificationsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Type       string `mapstructure:"type"` // "log" or "webhook"
	WebhookURL string `mapstructure:"webhook_url"`
	Timeout    string `mapstructure:"timeout"`
	Retries    int    `mapstructure:"retries"`
}

// AuthorizationConfig holds the initial state of the authorization gate
type AuthorizationConfig struct {
	Granted bool `mapstructure:"granted"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("UNPLUG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns a Viper instance populated only with default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.api_port", 8470)
	v.SetDefault("server.metrics_port", 9470)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/unplug/unplug.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "unplug")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Usage tracking defaults
	v.SetDefault("usage_tracking.daily_reset_time", "00:00")
	v.SetDefault("usage_tracking.history_retention_days", 90)
	v.SetDefault("usage_tracking.timezone", "Local")
	v.SetDefault("usage_tracking.poll_interval", "30s")
	v.SetDefault("usage_tracking.source", "none")
	v.SetDefault("usage_tracking.source_key", "unplug:usage:today")

	// Enforcement defaults
	v.SetDefault("enforcement.warning_threshold", "5m")
	v.SetDefault("enforcement.evaluator", "builtin")
	v.SetDefault("enforcement.opa_policy_dir", "")
	v.SetDefault("enforcement.actuator", "log")
	v.SetDefault("enforcement.redis_blocked_key", "unplug:blocked")
	v.SetDefault("enforcement.redis_channel", "unplug:blocked:changed")

	// Notification defaults
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.type", "log")
	v.SetDefault("notifications.webhook_url", "")
	v.SetDefault("notifications.timeout", "5s")
	v.SetDefault("notifications.retries", 2)

	// Authorization defaults
	v.SetDefault("authorization.granted", false)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "bolt", "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s storage", cfg.Storage.Type)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if _, err := time.Parse("15:04", cfg.Usage.DailyResetTime); err != nil {
		return fmt.Errorf("invalid daily_reset_time %q (want HH:MM): %w", cfg.Usage.DailyResetTime, err)
	}
	if cfg.Usage.HistoryRetentionDays < 0 {
		return fmt.Errorf("history_retention_days must not be negative")
	}
	if _, err := cfg.Usage.Location(); err != nil {
		return err
	}
	switch cfg.Usage.Source {
	case "none":
	case "redis":
		interval, err := time.ParseDuration(cfg.Usage.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval: %w", err)
		}
		if interval <= 0 {
			return fmt.Errorf("poll_interval must be positive")
		}
	default:
		return fmt.Errorf("unsupported usage source: %s (must be none or redis)", cfg.Usage.Source)
	}

	threshold, err := time.ParseDuration(cfg.Enforcement.WarningThreshold)
	if err != nil {
		return fmt.Errorf("invalid warning_threshold: %w", err)
	}
	if threshold < 0 {
		return fmt.Errorf("warning_threshold must not be negative")
	}

	switch cfg.Enforcement.Evaluator {
	case "builtin", "opa":
	default:
		return fmt.Errorf("unsupported evaluator: %s (must be builtin or opa)", cfg.Enforcement.Evaluator)
	}

	switch cfg.Enforcement.Actuator {
	case "log", "redis":
	default:
		return fmt.Errorf("unsupported actuator: %s (must be log or redis)", cfg.Enforcement.Actuator)
	}

	switch cfg.Notifications.Type {
	case "log":
	case "webhook":
		if cfg.Notifications.WebhookURL == "" {
			return fmt.Errorf("webhook_url is required for webhook notifications")
		}
	default:
		return fmt.Errorf("unsupported notification type: %s (must be log or webhook)", cfg.Notifications.Type)
	}

	return nil
}

// Location resolves the configured timezone used for calendar-day comparison.
func (u UsageConfig) Location() (*time.Location, error) {
	switch u.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		loc, err := time.LoadLocation(u.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", u.Timezone, err)
		}
		return loc, nil
	}
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile reports a missing explicit path as an fs error, not ConfigFileNotFoundError.
	return errors.Is(err, fs.ErrNotExist)
}

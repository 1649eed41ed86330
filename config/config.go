// Package config loads runtime configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Remote RemoteConfig `mapstructure:"remote"`
	Store  StoreConfig  `mapstructure:"store"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Retry  RetryConfig  `mapstructure:"retry"`
	Probe  ProbeConfig  `mapstructure:"probe"`
	Log    LogConfig    `mapstructure:"log"`
}

// RemoteConfig configures the remote service client.
type RemoteConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	AuthToken     string        `mapstructure:"auth_token"`
	RatePerSecond int           `mapstructure:"rate_per_second"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// StoreConfig configures the local database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SyncConfig configures the log poller and pagination.
type SyncConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PageSize     int           `mapstructure:"page_size"`
}

// RetryConfig configures network retry behavior.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Factor       float64       `mapstructure:"factor"`
}

// ProbeConfig configures the connectivity prober.
type ProbeConfig struct {
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("remote.rate_per_second", 8)
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("store.path", "driftline.db")

	v.SetDefault("sync.poll_interval", 3*time.Second)
	v.SetDefault("sync.page_size", 50)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", 100*time.Millisecond)
	v.SetDefault("retry.max_delay", 5*time.Second)
	v.SetDefault("retry.factor", 2.0)

	v.SetDefault("probe.interval", 15*time.Second)
	v.SetDefault("probe.timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
}

// Load reads configuration from path, falling back to defaults and
// DRIFTLINE_* environment variables. An empty path skips the file and
// uses defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DRIFTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Watch reloads the config file on change and calls onChange with each
// valid new configuration. Invalid edits are skipped; the previous
// configuration stays in effect.
func Watch(path string, onChange func(*Config)) error {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DRIFTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		var config Config
		if err := v.Unmarshal(&config); err != nil {
			return
		}
		if err := config.Validate(); err != nil {
			return
		}
		onChange(&config)
	})
	v.WatchConfig()
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Remote.RatePerSecond <= 0 {
		return fmt.Errorf("remote.rate_per_second must be positive, got %d", c.Remote.RatePerSecond)
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync.poll_interval must be positive, got %s", c.Sync.PollInterval)
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Factor < 1.0 {
		return fmt.Errorf("retry.factor must be at least 1.0, got %g", c.Retry.Factor)
	}
	if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry delays invalid: initial %s, max %s", c.Retry.InitialDelay, c.Retry.MaxDelay)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}

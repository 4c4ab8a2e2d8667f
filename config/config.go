// Package config loads ordersync client configuration from a YAML file and
// ORDERSYNC_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fieldline/ordersync/logging"
)

// Config is the full client configuration.
type Config struct {
	Remote    RemoteConfig    `mapstructure:"remote"`
	Store     StoreConfig     `mapstructure:"store"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Logging   logging.Config  `mapstructure:"logging"`
}

// RemoteConfig points at the sales-order API.
type RemoteConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	AuthToken string        `mapstructure:"auth_token"`
}

// StoreConfig locates the local cache database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig controls the periodic background sync.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Spec is a cron expression, e.g. "@every 5m".
	Spec string `mapstructure:"spec"`
}

// ProbeConfig controls the HTTP connectivity probe.
type ProbeConfig struct {
	// URL to probe; defaults to <remote.base_url>/health when empty.
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from the given file (optional; pass "" to use
// only defaults and environment) and the ORDERSYNC_* environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("remote.base_url", "http://localhost:8080")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("store.path", "ordersync.db")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.timeout", 30*time.Second)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.spec", "@every 5m")
	v.SetDefault("probe.interval", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.environment", "prod")

	v.SetEnvPrefix("ORDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
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

// Validate checks the fields that would otherwise fail much later at
// runtime.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries)
	}
	if c.Scheduler.Enabled && c.Scheduler.Spec == "" {
		return fmt.Errorf("scheduler.spec is required when the scheduler is enabled")
	}
	return nil
}

// ProbeURL returns the configured probe URL, defaulting to the API health
// endpoint.
func (c *Config) ProbeURL() string {
	if c.Probe.URL != "" {
		return c.Probe.URL
	}
	return strings.TrimRight(c.Remote.BaseURL, "/") + "/health"
}

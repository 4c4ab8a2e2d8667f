package logging

import (
	"log/slog"
	"os"
)

// Config holds logger configuration.
type Config struct {
	Level       string `json:"level" mapstructure:"level"`             // debug, info, warn, error
	Format      string `json:"format" mapstructure:"format"`           // text, json
	AddSource   bool   `json:"add_source" mapstructure:"add_source"`   // include source position
	Environment string `json:"environment" mapstructure:"environment"` // dev, prod, test
}

// DefaultConfig is used when Init is never called explicitly.
var DefaultConfig = Config{
	Level:       "info",
	Format:      "json",
	AddSource:   false,
	Environment: "dev",
}

func (c Config) slogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetConfigFromEnv builds a Config from ORDERSYNC_LOG_* environment
// variables, falling back to DefaultConfig values.
func GetConfigFromEnv() Config {
	config := DefaultConfig

	if level := os.Getenv("ORDERSYNC_LOG_LEVEL"); level != "" {
		config.Level = level
	}
	if format := os.Getenv("ORDERSYNC_LOG_FORMAT"); format != "" {
		config.Format = format
	}
	if env := os.Getenv("ORDERSYNC_ENV"); env != "" {
		config.Environment = env
	}
	if os.Getenv("ORDERSYNC_LOG_SOURCE") == "true" {
		config.AddSource = true
	}

	return config
}

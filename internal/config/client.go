package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ClientConfig configures the offline caresync CLI. Values come from
// CARESYNC_* environment variables.
type ClientConfig struct {
	ServerURL    string        `envconfig:"SERVER_URL" default:"http://localhost:8080"`
	DBPath       string        `envconfig:"DB_PATH" default:"caresync-offline.db"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"30s"`
	SyncInterval time.Duration `envconfig:"SYNC_INTERVAL" default:"1m"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
}

func LoadClientConfig() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := envconfig.Process("caresync", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process client env: %w", err)
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("CARESYNC_SERVER_URL is required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("CARESYNC_TIMEOUT must be positive")
	}
	if cfg.SyncInterval <= 0 {
		return nil, errors.New("CARESYNC_SYNC_INTERVAL must be positive")
	}
	return &cfg, nil
}

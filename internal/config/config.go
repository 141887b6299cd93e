// Package config loads the client configuration from a TOML file with
// environment-variable overrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Config holds everything the client needs to reach the fleet API.
type Config struct {
	BaseURL               string `toml:"base_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	LogLevel              string `toml:"log_level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		RequestTimeoutSeconds: 30,
		LogLevel:              "info",
	}
}

// RequestTimeout returns the per-request timeout as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Load reads the TOML file at path, falling back to defaults when the file
// does not exist, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "[config.Load] parse %s", path)
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return Config{}, errors.Wrapf(err, "[config.Load] read %s", path)
	}

	applyEnv(&cfg)

	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Config{}, errors.New("[config.Load] base_url is required (set it in the config file or FLEETADMIN_BASE_URL)")
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = Default().RequestTimeoutSeconds
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLEETADMIN_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("FLEETADMIN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLEETADMIN_REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeoutSeconds = n
		}
	}
}

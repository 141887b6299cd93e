package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iotfleet/fleetadmin/internal/config"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fleetadmin.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
base_url = "https://fleet.example.com"
request_timeout_seconds = 10
log_level = "debug"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://fleet.example.com", cfg.BaseURL)
	require.Equal(t, 10*time.Second, cfg.RequestTimeout())
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("FLEETADMIN_BASE_URL", "https://fleet.example.com")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, "https://fleet.example.com", cfg.BaseURL)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout())
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
base_url = "https://fleet.example.com"
log_level = "info"
`)
	t.Setenv("FLEETADMIN_BASE_URL", "https://staging.fleet.example.com")
	t.Setenv("FLEETADMIN_LOG_LEVEL", "trace")
	t.Setenv("FLEETADMIN_REQUEST_TIMEOUT_SECONDS", "5")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://staging.fleet.example.com", cfg.BaseURL)
	require.Equal(t, "trace", cfg.LogLevel)
	require.Equal(t, 5*time.Second, cfg.RequestTimeout())
}

func TestLoadRequiresBaseURL(t *testing.T) {
	t.Setenv("FLEETADMIN_BASE_URL", "")

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "base_url")
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfigFile(t, `base_url = [not toml`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadIgnoresNonPositiveTimeout(t *testing.T) {
	path := writeConfigFile(t, `
base_url = "https://fleet.example.com"
request_timeout_seconds = -3
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout())
}

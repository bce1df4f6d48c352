package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	path := writeConfig(t, "app:\n  environment: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Environment)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 30*time.Second, cfg.Connectivity.ProbeInterval)
	assert.Equal(t, 5*time.Second, cfg.Connectivity.ProbeTimeout)
	assert.Equal(t, 20, cfg.Sync.MaxRetries)
	assert.Equal(t, "/api/flight-logs", cfg.Remote.StorePaths["flight_logs"])
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileOverrides(t *testing.T) {
	viper.Reset()
	path := writeConfig(t, `
remote:
  base_url: https://logbook.example.com
  backup_urls: ["https://backup.example.com"]
connectivity:
  probe_interval: 10s
sync:
  max_retries: 0
  retry_backoff_base: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://logbook.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, []string{"https://backup.example.com"}, cfg.Remote.BackupURLs)
	assert.Equal(t, 10*time.Second, cfg.Connectivity.ProbeInterval)
	assert.Equal(t, 0, cfg.Sync.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Sync.RetryBackoffBase)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("DATABASE_URL", "postgres://localhost/droneops")
	t.Setenv("DROPSYNC_LOGGING_LEVEL", "debug")
	path := writeConfig(t, "storage:\n  type: postgres\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/droneops", cfg.Storage.ConnectionString)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Remote:       RemoteConfig{BaseURL: "http://localhost:3001"},
			Storage:      StorageConfig{ConnectionString: "./data/droneops.db"},
			Connectivity: ConnectivityConfig{ProbeInterval: time.Second, ProbeTimeout: time.Second},
			Sync:         SyncConfig{RemoteTimeout: time.Second},
		}
	}
	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Remote.BaseURL = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Sync.MaxRetries = -1
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Connectivity.WatchInterfaces = true
	assert.Error(t, cfg.Validate())
}

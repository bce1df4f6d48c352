package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/droneops-sync/internal/config"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

func testConfig(t *testing.T, remoteURL string) *config.Config {
	t.Helper()
	return &config.Config{
		App:    config.AppConfig{Name: "droneops-sync", Environment: "test"},
		Remote: config.RemoteConfig{BaseURL: remoteURL, HealthPath: "/api/health", RequestTimeout: 2 * time.Second},
		Storage: config.StorageConfig{
			Type:             "sqlite",
			ConnectionString: filepath.Join(t.TempDir(), "app.db"),
			MaxConnections:   1,
		},
		Connectivity: config.ConnectivityConfig{
			ProbeInterval:      time.Hour,
			ProbeTimeout:       time.Second,
			AssumeSystemOnline: true,
		},
		Sync:    config.SyncConfig{RemoteTimeout: 2 * time.Second, MaxRetries: 3},
		Logging: config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"},
	}
}

func newFakeRemote(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	var nextID atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	mux.HandleFunc("POST /api/flight-logs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":` + strconv.Itoa(int(nextID.Add(1))) + `}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncOnceDrainsOfflineWrites(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	remote := newFakeRemote(t, &healthy)

	app, err := NewApplication(testConfig(t, remote.URL))
	require.NoError(t, err)
	defer app.Stop()

	ctx := context.Background()
	rec, err := app.service.SaveFlightLog(ctx, map[string]interface{}{"pilot": "ana"})
	require.NoError(t, err)
	assert.True(t, models.ParseRecordID(rec.ID.Value).IsLocal())

	result, err := app.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, models.StateOnline, app.tracker.Current())

	stats, err := app.GetStats(ctx)
	require.NoError(t, err)
	syncStats := stats["sync"].(*models.SyncStats)
	assert.Equal(t, int64(0), syncStats.PendingSyncCount)
	assert.NotNil(t, syncStats.LastSyncTime)
}

func TestSyncOnceFailsWhenRemoteDown(t *testing.T) {
	var healthy atomic.Bool
	remote := newFakeRemote(t, &healthy)

	app, err := NewApplication(testConfig(t, remote.URL))
	require.NoError(t, err)
	defer app.Stop()

	_, err = app.SyncOnce(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeProbe))
	assert.Equal(t, models.StateOffline, app.tracker.Current())
}

func TestNewApplicationRejectsInvalidStorage(t *testing.T) {
	tests := map[string]func(cfg *config.Config){
		"unknown type":         func(cfg *config.Config) { cfg.Storage.Type = "mongodb" },
		"negative connections": func(cfg *config.Config) { cfg.Storage.MaxConnections = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t, "http://127.0.0.1:1")
			mutate(cfg)

			_, err := NewApplication(cfg)
			require.Error(t, err)
			assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))
		})
	}
}

func TestStartAndStop(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	remote := newFakeRemote(t, &healthy)

	cfg := testConfig(t, remote.URL)
	cfg.Server = config.ServerConfig{Enabled: true, Host: "127.0.0.1", Port: 0, EnableHealth: true}

	app, err := NewApplication(cfg)
	require.NoError(t, err)
	require.NotNil(t, app.server)

	require.NoError(t, app.Start())
	assert.Eventually(t, func() bool {
		return app.tracker.Current() == models.StateOnline
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, app.Stop())
	assert.False(t, app.monitor.IsRunning())
}

func TestApplyConfigChangeUpdatesLogLevel(t *testing.T) {
	app, err := NewApplication(testConfig(t, "http://127.0.0.1:1"))
	require.NoError(t, err)
	defer app.Stop()

	next := testConfig(t, "http://127.0.0.1:1")
	next.Logging.Level = "debug"
	app.applyConfigChange(next, fsnotify.Event{Name: "config.yaml", Op: fsnotify.Write})
	assert.Equal(t, logrus.DebugLevel, utils.GetLogger().GetLevel())

	next.Logging.Level = "loud"
	app.applyConfigChange(next, fsnotify.Event{Name: "config.yaml", Op: fsnotify.Write})
	assert.Equal(t, logrus.DebugLevel, utils.GetLogger().GetLevel())
}

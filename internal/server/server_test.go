package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/smartdevs17/droneops-sync/internal/config"
	"github.com/smartdevs17/droneops-sync/internal/connection"
	"github.com/smartdevs17/droneops-sync/internal/logbook"
	"github.com/smartdevs17/droneops-sync/internal/metrics"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/internal/monitor"
	"github.com/smartdevs17/droneops-sync/internal/notification"
	"github.com/smartdevs17/droneops-sync/internal/orchestrator"
	"github.com/smartdevs17/droneops-sync/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server  *HTTPServer
	http    *httptest.Server
	tracker *notification.StatusTracker
	store   storage.Storage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	remoteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/health":
			w.Write([]byte(`{"ok":true}`))
		case r.Method == http.MethodPost:
			w.Write([]byte(`{"data":{"id":77}}`))
		case r.Method == http.MethodGet:
			w.Write([]byte(`{"data":[]}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(remoteSrv.Close)

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "server.db"),
		MaxConnections:   1,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())

	manager := metrics.NewManager()
	remote := connection.NewConnectionManager(&config.RemoteConfig{BaseURL: remoteSrv.URL})
	tracker := notification.NewStatusTracker(nil)
	syncCfg := &config.SyncConfig{RemoteTimeout: time.Second}
	orch := orchestrator.NewOrchestrator(store, remote, tracker, syncCfg)
	mon := monitor.NewConnectivityMonitor(remote, tracker, &monitor.MonitorConfig{ProbeInterval: time.Hour, ProbeTimeout: time.Second})
	orch.SetConnectivityChecker(mon)
	svc := logbook.NewService(store, remote, tracker, orch, syncCfg)

	srv, err := NewHTTPServer(&ServerConfig{EnableHealth: true, EnableMetrics: true}, svc, store, mon, orch, manager)
	require.NoError(t, err)
	srv.stream.Start()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.stream.Stop()
		ts.Close()
		svc.Close()
		store.Close()
	})
	return &testEnv{server: srv, http: ts, tracker: tracker, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestNewHTTPServerRequiresDependencies(t *testing.T) {
	_, err := NewHTTPServer(&ServerConfig{}, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "offline", body["connectivity"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = env.do(t, http.MethodGet, "/api/v1/health/detailed", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	components := body["components"].(map[string]interface{})
	assert.Equal(t, true, components["storage"])
}

func TestRecordLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, created := env.do(t, http.MethodPost, "/api/v1/records/flight-logs", `{"pilot":"ana","duration":12}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["id"].(string)
	assert.True(t, strings.HasPrefix(id, "local-"))
	assert.Equal(t, "pending", created["syncStatus"])
	assert.Equal(t, true, created["isLocal"])

	resp, got := env.do(t, http.MethodGet, "/api/v1/records/flight_logs/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ana", got["pilot"])

	resp, _ = env.do(t, http.MethodPut, "/api/v1/records/flight_logs/"+id, `{"pilot":"bea"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, list := env.do(t, http.MethodGet, "/api/v1/records/flightLogs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, list["total"])

	resp, queue := env.do(t, http.MethodGet, "/api/v1/sync/queue?status=pending", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, queue["total"])

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/records/flight_logs/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/records/flight_logs/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecordErrors(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/v1/records/drones", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Unknown store", body["error"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/records/inspections", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/sync/queue?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/records/inspections", `{"passed":true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/sync/trigger", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.True(t, env.tracker.Transition(models.StateOffline, models.StateOnline))
	resp, result := env.do(t, http.MethodPost, "/api/v1/sync/trigger", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, result["success"])

	resp, status := env.do(t, http.MethodGet, "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := status["stats"].(map[string]interface{})
	assert.Equal(t, 0.0, stats["pendingSyncCount"])
	assert.NotNil(t, stats["lastSyncTime"])
	assert.NotEmpty(t, stats["stateChangedAt"])
	assert.NotNil(t, status["lastSyncResult"])

	resp, retry := env.do(t, http.MethodPost, "/api/v1/sync/retry-dead", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.0, retry["requeued"])
}

func TestConnectivityEvents(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/connectivity/online", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "online", body["state"])

	resp, body = env.do(t, http.MethodPost, "/api/v1/connectivity/offline", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "offline", body["state"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/connectivity/sideways", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/health", "")

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "droneops_http_requests_total")
}

func TestStatusStream(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/sync/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() StatusMessage {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg StatusMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	first := read()
	assert.Equal(t, "status", first.Type)
	assert.Equal(t, models.StateOffline, first.State)

	require.Eventually(t, func() bool { return env.server.stream.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	env.tracker.Transition(models.StateOffline, models.StateOnline)

	assert.Equal(t, models.StateOnline, read().State)
}

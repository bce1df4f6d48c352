package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagersDoNotShareRegistry(t *testing.T) {
	first := NewManager()
	second := NewManager()

	first.GetPrometheusMetrics().RecordSyncPass("success", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(first.GetPrometheusMetrics().SyncPassesTotal.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.GetPrometheusMetrics().SyncPassesTotal.WithLabelValues("success")))
}

func TestRecordStateTransitionKeepsSingleActiveState(t *testing.T) {
	m := NewManager().GetPrometheusMetrics()

	m.RecordStateTransition("offline", "online")
	m.RecordStateTransition("online", "syncing")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectivityState.WithLabelValues("syncing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectivityState.WithLabelValues("online")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("offline", "online")))
}

func TestQueueGaugesAndProbes(t *testing.T) {
	m := NewManager().GetPrometheusMetrics()

	m.UpdateQueueDepth(4, 1)
	m.RecordProbe(true, 10*time.Millisecond)
	m.RecordProbe(false, 10*time.Millisecond)
	m.RecordProbe(false, 10*time.Millisecond)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueuePending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDeadLettered))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProbesTotal.WithLabelValues("failure")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	manager := NewManager()
	manager.GetPrometheusMetrics().RecordSyncItem("flight_logs", "create", "success")
	manager.UpdateSystemMetrics()

	rec := httptest.NewRecorder()
	manager.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `droneops_sync_items_total{operation="create",result="success",store="flight_logs"} 1`)
	assert.Contains(t, string(body), "droneops_goroutines_count")
}

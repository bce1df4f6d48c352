package notification

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/internal/metrics"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// StatusTracker owns the process-wide connectivity state. Only the monitor and
// the sync orchestrator transition it; everyone else reads or subscribes.
type StatusTracker struct {
	publishMu   sync.Mutex
	mu          sync.RWMutex
	state       models.ConnectivityState
	changedAt   time.Time
	broadcaster *Broadcaster
	logger      *logrus.Entry

	metricsManager *metrics.Manager
}

// NewStatusTracker creates a tracker in the offline state
func NewStatusTracker(broadcaster *Broadcaster) *StatusTracker {
	if broadcaster == nil {
		broadcaster = NewBroadcaster()
	}
	return &StatusTracker{
		state:       models.StateOffline,
		changedAt:   time.Now(),
		broadcaster: broadcaster,
		logger:      utils.GetLogger().WithField("component", "status_tracker"),
	}
}

// SetMetricsManager attaches metrics recording
func (t *StatusTracker) SetMetricsManager(m *metrics.Manager) {
	t.metricsManager = m
	if m != nil {
		m.GetPrometheusMetrics().SetConnectivityState(string(t.Current()))
	}
}

// Current returns the current state
func (t *StatusTracker) Current() models.ConnectivityState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// ChangedAt returns when the state last changed
func (t *StatusTracker) ChangedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changedAt
}

// Transition moves the state from one value to another if and only if the
// current state equals from. Subscribers are notified on success. Listeners
// must not call Transition themselves.
func (t *StatusTracker) Transition(from, to models.ConnectivityState) bool {
	if from == to {
		return false
	}

	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	t.mu.Lock()
	if t.state != from {
		t.mu.Unlock()
		return false
	}
	t.state = to
	t.changedAt = time.Now()
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Info("Connectivity state changed")

	if t.metricsManager != nil {
		t.metricsManager.GetPrometheusMetrics().RecordStateTransition(string(from), string(to))
	}

	t.broadcaster.Publish(to)
	return true
}

// Subscribe registers a listener for future state changes
func (t *StatusTracker) Subscribe(listener StatusListener) func() {
	return t.broadcaster.Subscribe(listener)
}

// Broadcaster returns the underlying broadcaster
func (t *StatusTracker) Broadcaster() *Broadcaster {
	return t.broadcaster
}

// File: internal/monitor/monitor.go
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/internal/metrics"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/internal/notification"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// Prober is the liveness call against the remote service
type Prober interface {
	Health(ctx context.Context) error
}

// WorkChecker reports whether queued intents are ready to replay
type WorkChecker interface {
	HasRunnableWork(ctx context.Context) (bool, error)
}

// SyncTrigger starts a drain pass. It is called on its own goroutine.
type SyncTrigger func(ctx context.Context)

// MonitorConfig holds monitor configuration
type MonitorConfig struct {
	ProbeInterval      time.Duration `json:"probe_interval"`
	ProbeTimeout       time.Duration `json:"probe_timeout"`
	AssumeSystemOnline bool          `json:"assume_system_online"`
}

// MonitorStats provides monitoring statistics
type MonitorStats struct {
	StartTime     time.Time                `json:"start_time"`
	IsRunning     bool                     `json:"is_running"`
	State         models.ConnectivityState `json:"state"`
	SystemOnline  bool                     `json:"system_online"`
	ProbesTotal   uint64                   `json:"probes_total"`
	ProbeFailures uint64                   `json:"probe_failures"`
	LastProbeAt   *time.Time               `json:"last_probe_at,omitempty"`
	LastProbeOK   bool                     `json:"last_probe_ok"`
	SyncsFired    uint64                   `json:"syncs_fired"`
}

// ConnectivityMonitor decides between offline and online. Both the system
// event source and the periodic ticker go through evaluate, so the two paths
// cannot disagree about the rules.
type ConnectivityMonitor struct {
	prober  Prober
	tracker *notification.StatusTracker
	trigger SyncTrigger
	work    WorkChecker
	config  *MonitorConfig
	logger  *logrus.Entry

	// State management
	mu           sync.RWMutex
	running      bool
	systemOnline bool
	systemEpoch  uint64
	evalMu       sync.Mutex
	baseCtx      context.Context
	cancel       context.CancelFunc
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	// Statistics
	stats          MonitorStats
	metricsManager *metrics.Manager
}

// NewConnectivityMonitor creates a new connectivity monitor
func NewConnectivityMonitor(prober Prober, tracker *notification.StatusTracker, config *MonitorConfig) *ConnectivityMonitor {
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 30 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}

	return &ConnectivityMonitor{
		prober:       prober,
		tracker:      tracker,
		config:       config,
		logger:       utils.GetLogger().WithField("component", "connectivity_monitor"),
		systemOnline: config.AssumeSystemOnline,
		stopChan:     make(chan struct{}),
	}
}

// SetSyncTrigger sets the function fired on every offline to online edge
func (cm *ConnectivityMonitor) SetSyncTrigger(trigger SyncTrigger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.trigger = trigger
}

// SetWorkChecker lets healthy probes while online start a pass when intents
// are still waiting, e.g. retries after a failed remote call
func (cm *ConnectivityMonitor) SetWorkChecker(work WorkChecker) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.work = work
}

// SetMetricsManager attaches metrics recording
func (cm *ConnectivityMonitor) SetMetricsManager(m *metrics.Manager) {
	cm.metricsManager = m
}

// Start runs an immediate evaluation and then one per probe interval
func (cm *ConnectivityMonitor) Start(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Monitor already running", "")
	}

	cm.baseCtx, cm.cancel = context.WithCancel(ctx)
	cm.running = true
	cm.stats.StartTime = time.Now()

	cm.wg.Add(1)
	go cm.monitoringLoop(cm.baseCtx)

	cm.logger.WithFields(logrus.Fields{
		"probe_interval": cm.config.ProbeInterval,
		"probe_timeout":  cm.config.ProbeTimeout,
		"system_online":  cm.systemOnline,
	}).Info("Connectivity monitor started")

	return nil
}

// Stop stops the loop and waits for it and any drain pass it started
func (cm *ConnectivityMonitor) Stop() error {
	cm.mu.Lock()
	if !cm.running {
		cm.mu.Unlock()
		return nil
	}
	cm.running = false
	cm.stopOnce.Do(func() {
		close(cm.stopChan)
	})
	cancel := cm.cancel
	cm.mu.Unlock()

	cancel()
	cm.wg.Wait()

	cm.logger.Info("Connectivity monitor stopped")
	return nil
}

// IsRunning returns whether the monitor is running
func (cm *ConnectivityMonitor) IsRunning() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.running
}

func (cm *ConnectivityMonitor) monitoringLoop(ctx context.Context) {
	defer cm.wg.Done()

	ticker := time.NewTicker(cm.config.ProbeInterval)
	defer ticker.Stop()

	cm.evaluate(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.stopChan:
			return
		case <-ticker.C:
			cm.evaluate(ctx)
		}
	}
}

// HandleSystemEvent records a host network signal. Going offline takes
// effect immediately; coming online still requires a successful probe.
func (cm *ConnectivityMonitor) HandleSystemEvent(ctx context.Context, online bool) models.ConnectivityState {
	cm.mu.Lock()
	changed := cm.systemOnline != online
	cm.systemOnline = online
	if !online {
		cm.systemEpoch++
	}
	cm.mu.Unlock()

	cm.logger.WithFields(logrus.Fields{
		"online":  online,
		"changed": changed,
	}).Debug("System network event")

	if !online {
		cm.tracker.Transition(models.StateOnline, models.StateOffline)
		return cm.tracker.Current()
	}
	return cm.evaluate(ctx)
}

// CheckNow runs one evaluation outside the ticker
func (cm *ConnectivityMonitor) CheckNow(ctx context.Context) models.ConnectivityState {
	return cm.evaluate(ctx)
}

// Reachable reports whether the host is online and the remote answers the
// liveness probe. It never changes state.
func (cm *ConnectivityMonitor) Reachable(ctx context.Context) bool {
	cm.mu.RLock()
	systemOnline := cm.systemOnline
	cm.mu.RUnlock()

	if !systemOnline {
		return false
	}
	return cm.probe(ctx)
}

func (cm *ConnectivityMonitor) evaluate(ctx context.Context) models.ConnectivityState {
	cm.evalMu.Lock()
	defer cm.evalMu.Unlock()

	cm.mu.RLock()
	systemOnline := cm.systemOnline
	epoch := cm.systemEpoch
	cm.mu.RUnlock()

	// While a drain pass runs the orchestrator owns the final state
	if cm.tracker.Current() == models.StateSyncing {
		return models.StateSyncing
	}

	if !systemOnline {
		cm.tracker.Transition(models.StateOnline, models.StateOffline)
		return cm.tracker.Current()
	}

	ok := cm.probe(ctx)

	cm.mu.RLock()
	stale := cm.systemEpoch != epoch || !cm.systemOnline
	cm.mu.RUnlock()
	if stale {
		// an offline event arrived while probing and has already been applied
		return cm.tracker.Current()
	}

	if ok {
		if cm.tracker.Transition(models.StateOffline, models.StateOnline) {
			cm.fireTrigger()
		} else if cm.tracker.Current() == models.StateOnline && cm.hasRunnableWork(ctx) {
			cm.fireTrigger()
		}
	} else {
		cm.tracker.Transition(models.StateOnline, models.StateOffline)
	}
	return cm.tracker.Current()
}

func (cm *ConnectivityMonitor) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, cm.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := cm.prober.Health(probeCtx)
	duration := time.Since(start)

	cm.mu.Lock()
	now := time.Now()
	cm.stats.ProbesTotal++
	cm.stats.LastProbeAt = &now
	cm.stats.LastProbeOK = err == nil
	if err != nil {
		cm.stats.ProbeFailures++
	}
	cm.mu.Unlock()

	if cm.metricsManager != nil {
		cm.metricsManager.GetPrometheusMetrics().RecordProbe(err == nil, duration)
	}

	if err != nil {
		cm.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"duration": duration,
		}).Debug("Liveness probe failed")
		return false
	}
	return true
}

func (cm *ConnectivityMonitor) hasRunnableWork(ctx context.Context) bool {
	cm.mu.RLock()
	work := cm.work
	cm.mu.RUnlock()
	if work == nil {
		return false
	}

	ready, err := work.HasRunnableWork(ctx)
	if err != nil {
		cm.logger.WithError(err).Warn("Failed to inspect mutation queue")
		return false
	}
	return ready
}

func (cm *ConnectivityMonitor) fireTrigger() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.trigger == nil || !cm.running {
		return
	}
	cm.stats.SyncsFired++
	trigger := cm.trigger
	ctx := cm.baseCtx

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		trigger(ctx)
	}()
}

// GetStats returns monitoring statistics
func (cm *ConnectivityMonitor) GetStats() MonitorStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := cm.stats
	stats.IsRunning = cm.running
	stats.SystemOnline = cm.systemOnline
	stats.State = cm.tracker.Current()
	return stats
}

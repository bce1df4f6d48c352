package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "droneops"

// PrometheusMetrics contains all Prometheus metrics for the sync engine
type PrometheusMetrics struct {
	// Drain pass metrics
	SyncPassesTotal   *prometheus.CounterVec
	SyncItemsTotal    *prometheus.CounterVec
	SyncPassDuration  prometheus.Histogram
	QueuePending      prometheus.Gauge
	QueueDeadLettered prometheus.Gauge
	LastSyncTimestamp prometheus.Gauge

	// Connectivity metrics
	ConnectivityState    *prometheus.GaugeVec
	StateTransitions     *prometheus.CounterVec
	ProbesTotal          *prometheus.CounterVec
	ProbeDuration        prometheus.Histogram
	RemoteRequestsTotal  *prometheus.CounterVec
	RemoteRequestLatency *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	StreamClients       prometheus.Gauge

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		SyncPassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_passes_total",
				Help:      "Total number of drain passes by outcome",
			},
			[]string{"outcome"},
		),

		SyncItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_items_total",
				Help:      "Queue items processed by store, operation and result",
			},
			[]string{"store", "operation", "result"},
		),

		SyncPassDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_pass_duration_seconds",
				Help:      "Duration of drain passes",
				Buckets:   prometheus.DefBuckets,
			},
		),

		QueuePending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sync_queue_pending",
				Help:      "Pending write intents in the mutation queue",
			},
		),

		QueueDeadLettered: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sync_queue_dead_lettered",
				Help:      "Write intents that exhausted their retries",
			},
		),

		LastSyncTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_sync_timestamp_seconds",
				Help:      "Unix time of the last completed drain pass",
			},
		),

		ConnectivityState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connectivity_state",
				Help:      "1 for the current connectivity state, 0 otherwise",
			},
			[]string{"state"},
		),

		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connectivity_transitions_total",
				Help:      "Connectivity state transitions",
			},
			[]string{"from", "to"},
		),

		ProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "liveness_probes_total",
				Help:      "Liveness probes against the remote service",
			},
			[]string{"result"},
		),

		ProbeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "liveness_probe_duration_seconds",
				Help:      "Duration of liveness probes",
				Buckets:   prometheus.DefBuckets,
			},
		),

		RemoteRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_requests_total",
				Help:      "Requests made to the remote service",
			},
			[]string{"endpoint", "method", "status"},
		),

		RemoteRequestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_request_duration_seconds",
				Help:      "Duration of requests to the remote service",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "database_operations_total",
				Help:      "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "database_operation_duration_seconds",
				Help:      "Duration of database operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Status notifications delivered",
			},
			[]string{"channel"},
		),

		NotificationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_failures_total",
				Help:      "Status notifications that could not be delivered",
			},
			[]string{"channel"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "status_stream_clients",
				Help:      "Connected status stream websocket clients",
			},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "application_uptime_seconds",
				Help:      "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "component_health",
				Help:      "Health status of application components (1 = healthy, 0 = unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines_count",
				Help:      "Current number of goroutines",
			},
		),
	}
}

// RecordSyncPass records a completed drain pass
func (m *PrometheusMetrics) RecordSyncPass(outcome string, duration time.Duration) {
	m.SyncPassesTotal.WithLabelValues(outcome).Inc()
	m.SyncPassDuration.Observe(duration.Seconds())
	m.LastSyncTimestamp.SetToCurrentTime()
}

// RecordSyncItem records the result of replaying one queue item
func (m *PrometheusMetrics) RecordSyncItem(store, operation, result string) {
	m.SyncItemsTotal.WithLabelValues(store, operation, result).Inc()
}

// UpdateQueueDepth updates the queue gauges
func (m *PrometheusMetrics) UpdateQueueDepth(pending, dead int64) {
	m.QueuePending.Set(float64(pending))
	m.QueueDeadLettered.Set(float64(dead))
}

// RecordStateTransition moves the connectivity gauge to the new state
func (m *PrometheusMetrics) RecordStateTransition(from, to string) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
	m.SetConnectivityState(to)
}

// SetConnectivityState marks state as the only active connectivity state
func (m *PrometheusMetrics) SetConnectivityState(state string) {
	m.ConnectivityState.Reset()
	m.ConnectivityState.WithLabelValues(state).Set(1)
}

// RecordProbe records a liveness probe
func (m *PrometheusMetrics) RecordProbe(ok bool, duration time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
	m.ProbeDuration.Observe(duration.Seconds())
}

// RecordRemoteRequest records a request to the remote service
func (m *PrometheusMetrics) RecordRemoteRequest(endpoint, method, status string, duration time.Duration) {
	m.RemoteRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RemoteRequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordNotificationSent records a delivered notification
func (m *PrometheusMetrics) RecordNotificationSent(channel string) {
	m.NotificationsSentTotal.WithLabelValues(channel).Inc()
}

// RecordNotificationFailure records a failed notification
func (m *PrometheusMetrics) RecordNotificationFailure(channel string) {
	m.NotificationFailuresTotal.WithLabelValues(channel).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

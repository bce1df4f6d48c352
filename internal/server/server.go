// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/droneops-sync/internal/logbook"
	"github.com/smartdevs17/droneops-sync/internal/metrics"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/internal/monitor"
	"github.com/smartdevs17/droneops-sync/internal/orchestrator"
	"github.com/smartdevs17/droneops-sync/internal/storage"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
	Version       string        `json:"version"`
}

// HTTPServer exposes the logbook and sync state to the UI layer
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	service        *logbook.Service
	storage        storage.Storage
	monitor        *monitor.ConnectivityMonitor
	orchestrator   *orchestrator.Orchestrator
	stream         *StatusStream
	metricsManager *metrics.Manager
	logger         *logrus.Logger
	startTime      time.Time
	stopChan       chan struct{}
}

// NewHTTPServer creates a new HTTP server. monitor and metricsManager may be nil.
func NewHTTPServer(
	config *ServerConfig,
	service *logbook.Service,
	storage storage.Storage,
	monitor *monitor.ConnectivityMonitor,
	orchestrator *orchestrator.Orchestrator,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {
	if service == nil || storage == nil || orchestrator == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "HTTP server requires service, storage and orchestrator", "")
	}
	if config.Version == "" {
		config.Version = "1.0.0"
	}

	server := &HTTPServer{
		config:         config,
		service:        service,
		storage:        storage,
		monitor:        monitor,
		orchestrator:   orchestrator,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		startTime:      time.Now(),
		stopChan:       make(chan struct{}),
	}
	server.stream = NewStatusStream(service, metricsManager)

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// Handler returns the routed handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
	}
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	// Record endpoints
	api.HandleFunc("/records/{store}", s.listRecordsHandler).Methods("GET")
	api.HandleFunc("/records/{store}", s.saveRecordHandler).Methods("POST")
	api.HandleFunc("/records/{store}/{id}", s.getRecordHandler).Methods("GET")
	api.HandleFunc("/records/{store}/{id}", s.saveRecordHandler).Methods("PUT")
	api.HandleFunc("/records/{store}/{id}", s.deleteRecordHandler).Methods("DELETE")

	// Sync endpoints
	api.HandleFunc("/sync/status", s.syncStatusHandler).Methods("GET")
	api.HandleFunc("/sync/trigger", s.triggerSyncHandler).Methods("POST")
	api.HandleFunc("/sync/queue", s.queueHandler).Methods("GET")
	api.HandleFunc("/sync/retry-dead", s.retryDeadHandler).Methods("POST")
	api.HandleFunc("/sync/stream", s.stream.ServeHTTP).Methods("GET")

	// Connectivity endpoints
	api.HandleFunc("/connectivity", s.connectivityHandler).Methods("GET")
	api.HandleFunc("/connectivity/{event:online|offline}", s.connectivityEventHandler).Methods("POST")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	s.stream.Start()

	// Immediately update system and component metrics so they appear on first scrape
	if s.metricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.updateComponentMetrics()
		}
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.metricsManager.UpdateSystemMetrics()
	pm := s.metricsManager.GetPrometheusMetrics()
	pm.UpdateComponentHealth("storage", s.storage.Ping() == nil)
	if s.monitor != nil {
		pm.UpdateComponentHealth("monitor", s.monitor.IsRunning())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pending, perr := s.storage.CountQueue(ctx, models.QueueStatusPending)
	dead, derr := s.storage.CountQueue(ctx, models.QueueStatusError)
	if perr == nil && derr == nil {
		pm.UpdateQueueDepth(pending, dead)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	s.stream.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.config.Version,
		"connectivity":    s.service.CurrentStatus(),
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns detailed health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	storageErr := s.storage.Ping()
	status := "healthy"
	code := http.StatusOK
	if storageErr != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	components := map[string]interface{}{
		"storage":      storageErr == nil,
		"connectivity": s.service.CurrentStatus(),
		"stream":       s.stream.ClientCount(),
	}
	if s.monitor != nil {
		components["monitor"] = s.monitor.GetStats()
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now(),
		"version":    s.config.Version,
		"uptime":     time.Since(s.startTime).String(),
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStorageStats(r.Context())
	if err != nil {
		s.writeAppError(w, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"storage":         storageStats,
		"orchestrator":    s.orchestrator.GetStats(),
		"metrics_enabled": s.config.EnableMetrics,
	}
	if s.monitor != nil {
		stats["monitor"] = s.monitor.GetStats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Record Handlers

func (s *HTTPServer) storeFromRequest(w http.ResponseWriter, r *http.Request) (models.StoreName, bool) {
	store, err := models.ParseStoreName(mux.Vars(r)["store"])
	if err != nil {
		s.writeAppError(w, "Unknown store", err)
		return "", false
	}
	return store, true
}

// listRecordsHandler lists a store
func (s *HTTPServer) listRecordsHandler(w http.ResponseWriter, r *http.Request) {
	store, ok := s.storeFromRequest(w, r)
	if !ok {
		return
	}

	records, err := s.service.GetAll(r.Context(), store)
	if err != nil {
		s.writeAppError(w, "Failed to retrieve records", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"store":   store,
		"total":   len(records),
	})
}

// getRecordHandler returns one local record
func (s *HTTPServer) getRecordHandler(w http.ResponseWriter, r *http.Request) {
	store, ok := s.storeFromRequest(w, r)
	if !ok {
		return
	}

	record, err := s.service.Get(r.Context(), store, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, "Record not found", err)
		return
	}

	s.writeJSON(w, http.StatusOK, record.View())
}

// saveRecordHandler creates (POST) or replaces (PUT) a record
func (s *HTTPServer) saveRecordHandler(w http.ResponseWriter, r *http.Request) {
	store, ok := s.storeFromRequest(w, r)
	if !ok {
		return
	}

	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if data == nil {
		data = make(map[string]interface{})
	}
	if id, ok := mux.Vars(r)["id"]; ok {
		data["id"] = id
	}

	record, err := s.service.Save(r.Context(), store, data)
	if err != nil {
		s.writeAppError(w, "Failed to save record", err)
		return
	}

	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, record.View())
}

// deleteRecordHandler deletes a record and queues the remote delete
func (s *HTTPServer) deleteRecordHandler(w http.ResponseWriter, r *http.Request) {
	store, ok := s.storeFromRequest(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	if err := s.service.Delete(r.Context(), store, id); err != nil {
		s.writeAppError(w, "Failed to delete record", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Record deleted",
		"id":      id,
	})
}

// Sync Handlers

// syncStatusHandler returns the status-display summary
func (s *HTTPServer) syncStatusHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.GetSyncStats(r.Context())
	if err != nil {
		s.writeAppError(w, "Failed to retrieve sync stats", err)
		return
	}
	lastResult, err := s.orchestrator.LastSyncResult(r.Context())
	if err != nil {
		s.writeAppError(w, "Failed to retrieve last sync result", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":          stats,
		"lastSyncResult": lastResult,
	})
}

// triggerSyncHandler runs a drain pass now
func (s *HTTPServer) triggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	state := s.service.CurrentStatus()
	if state != models.StateOnline {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("Cannot sync while %s", state), nil)
		return
	}

	result, err := s.service.TriggerSync(r.Context())
	if err != nil {
		s.writeAppError(w, "Sync failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// queueHandler lists queue items, optionally by status
func (s *HTTPServer) queueHandler(w http.ResponseWriter, r *http.Request) {
	status := models.QueueStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.QueueStatusPending, models.QueueStatusSuccess, models.QueueStatusError:
	default:
		s.writeError(w, http.StatusBadRequest, "Invalid queue status", nil)
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	items, err := s.storage.ListQueue(r.Context(), status, limit)
	if err != nil {
		s.writeAppError(w, "Failed to retrieve queue", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"limit": limit,
		"total": len(items),
	})
}

// retryDeadHandler requeues dead-lettered intents
func (s *HTTPServer) retryDeadHandler(w http.ResponseWriter, r *http.Request) {
	moved, err := s.service.RetryDeadLetters(r.Context())
	if err != nil {
		s.writeAppError(w, "Failed to requeue dead letters", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"requeued": moved,
	})
}

// Connectivity Handlers

// connectivityHandler returns the current state
func (s *HTTPServer) connectivityHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"state":     s.service.CurrentStatus(),
		"timestamp": time.Now(),
	}
	if s.monitor != nil {
		resp["monitor"] = s.monitor.GetStats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// connectivityEventHandler accepts host network events
func (s *HTTPServer) connectivityEventHandler(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Connectivity monitor is not running", nil)
		return
	}

	online := mux.Vars(r)["event"] == "online"
	state := s.monitor.HandleSystemEvent(r.Context(), online)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": state,
	})
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeAppError maps an application error code onto an HTTP status
func (s *HTTPServer) writeAppError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case utils.IsCode(err, utils.ErrCodeValidation):
		status = http.StatusBadRequest
	case utils.IsCode(err, utils.ErrCodeNotFound):
		status = http.StatusNotFound
	}
	s.writeError(w, status, message, err)
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		entry := s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err.Error(),
		})
		if status >= http.StatusInternalServerError {
			entry.Error("HTTP error")
		} else {
			entry.Debug("HTTP error")
		}
	}

	s.writeJSON(w, status, errorResponse)
}

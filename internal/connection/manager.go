package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/internal/config"
	"github.com/smartdevs17/droneops-sync/internal/metrics"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

var defaultStorePaths = map[models.StoreName]string{
	models.StoreFlightLogs:         "/api/flight-logs",
	models.StoreInspections:        "/api/daily-inspections",
	models.StoreMaintenanceRecords: "/api/maintenance-records",
}

// ConnectionManager is the HTTP RemoteClient. It talks to the primary base
// URL and fails over to the backups when a host cannot be reached.
type ConnectionManager struct {
	config         *config.RemoteConfig
	primaryURL     string
	backupURLs     []string
	currentIndex   int
	httpClient     *http.Client
	mu             sync.RWMutex
	logger         *logrus.Logger
	stats          ConnectionStats
	metricsManager *metrics.Manager
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Failovers       uint64    `json:"failovers"`
	CurrentURL      string    `json:"current_url"`
	LastSuccessAt   time.Time `json:"last_success_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
}

var _ RemoteClient = (*ConnectionManager)(nil)

// NewConnectionManager creates a new connection manager
func NewConnectionManager(cfg *config.RemoteConfig) *ConnectionManager {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &ConnectionManager{
		config:     cfg,
		primaryURL: strings.TrimRight(cfg.BaseURL, "/"),
		backupURLs: trimURLs(cfg.BackupURLs),
		httpClient: &http.Client{Timeout: timeout},
		logger:     utils.GetLogger(),
		stats: ConnectionStats{
			CurrentURL: cfg.BaseURL,
		},
	}
}

func trimURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// SetMetricsManager attaches metrics recording
func (cm *ConnectionManager) SetMetricsManager(m *metrics.Manager) {
	cm.metricsManager = m
}

// Health probes the remote health endpoint
func (cm *ConnectionManager) Health(ctx context.Context) error {
	path := cm.config.HealthPath
	if path == "" {
		path = "/api/health"
	}

	_, err := cm.do(ctx, http.MethodGet, path, nil)

	cm.mu.Lock()
	cm.stats.LastHealthCheck = time.Now()
	cm.stats.IsHealthy = err == nil
	cm.mu.Unlock()

	if err != nil {
		return utils.WrapAppError(utils.ErrCodeProbe, "Remote health check failed", err)
	}
	return nil
}

// Create posts a new record and returns it with its canonical id
func (cm *ConnectionManager) Create(ctx context.Context, store models.StoreName, payload map[string]interface{}) (*RemoteRecord, error) {
	path, err := cm.storePath(store)
	if err != nil {
		return nil, err
	}
	body, err := cm.do(ctx, http.MethodPost, path, createPayload(payload))
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeRemoteCall, "Remote create failed", err)
	}
	record, err := decodeRecord(body)
	if err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, utils.NewAppError(utils.ErrCodeRemoteCall, "Remote create returned no id", string(store))
	}
	return record, nil
}

// Update replaces a record addressed by its canonical id
func (cm *ConnectionManager) Update(ctx context.Context, store models.StoreName, id string, payload map[string]interface{}) (*RemoteRecord, error) {
	path, err := cm.storePath(store)
	if err != nil {
		return nil, err
	}
	body, err := cm.do(ctx, http.MethodPut, path+"/"+url.PathEscape(id), payload)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeRemoteCall, "Remote update failed", err)
	}
	record, err := decodeRecord(body)
	if err != nil {
		return nil, err
	}
	if record.ID == "" {
		record.ID = id
	}
	return record, nil
}

// Delete removes a record. A record the remote no longer has counts as deleted.
func (cm *ConnectionManager) Delete(ctx context.Context, store models.StoreName, id string) error {
	path, err := cm.storePath(store)
	if err != nil {
		return err
	}
	_, err = cm.do(ctx, http.MethodDelete, path+"/"+url.PathEscape(id), nil)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return utils.WrapAppError(utils.ErrCodeRemoteCall, "Remote delete failed", err)
	}
	return nil
}

// List returns every record of a store as held remotely
func (cm *ConnectionManager) List(ctx context.Context, store models.StoreName) ([]map[string]interface{}, error) {
	path, err := cm.storePath(store)
	if err != nil {
		return nil, err
	}
	body, err := cm.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeRemoteCall, "Remote list failed", err)
	}
	return decodeList(body)
}

func (cm *ConnectionManager) storePath(store models.StoreName) (string, error) {
	if !store.Valid() {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Unknown store", string(store))
	}
	if p, ok := cm.config.StorePaths[string(store)]; ok && p != "" {
		return p, nil
	}
	return defaultStorePaths[store], nil
}

// do sends one request, trying each base URL in turn while the host cannot
// be dialed. Once a request may have reached a server it is not resent.
func (cm *ConnectionManager) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		if bodyBytes, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	urls, start := cm.getAllURLs()
	var lastErr error
	for i, base := range urls {
		respBody, err := cm.send(ctx, base, method, path, bodyBytes)
		if err == nil {
			cm.markSuccess((start+i)%len(urls), i > 0)
			return respBody, nil
		}

		lastErr = err
		var httpErr *HTTPError
		if errors.As(err, &httpErr) || ctx.Err() != nil {
			break
		}
		if method != http.MethodGet && !isDialError(err) {
			break
		}
		cm.logger.WithFields(logrus.Fields{
			"url":    base,
			"method": method,
			"path":   path,
			"error":  err.Error(),
		}).Warn("Remote host unreachable, trying next")
	}

	cm.mu.Lock()
	cm.stats.FailedRequests++
	cm.mu.Unlock()
	return nil, lastErr
}

func (cm *ConnectionManager) send(ctx context.Context, base, method, path string, bodyBytes []byte) ([]byte, error) {
	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if cm.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cm.config.AuthToken)
	}
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	cm.mu.Lock()
	cm.stats.TotalRequests++
	cm.mu.Unlock()

	start := time.Now()
	resp, err := cm.httpClient.Do(req)
	if err != nil {
		cm.recordRequest(base, method, "error", start)
		return nil, err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	cm.recordRequest(base, method, resp.Status, start)
	if readErr != nil {
		return nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

func (cm *ConnectionManager) recordRequest(endpoint, method, status string, start time.Time) {
	if cm.metricsManager == nil {
		return
	}
	if i := strings.IndexByte(status, ' '); i > 0 {
		status = status[:i]
	}
	cm.metricsManager.GetPrometheusMetrics().RecordRemoteRequest(endpoint, method, status, time.Since(start))
}

func (cm *ConnectionManager) markSuccess(index int, failedOver bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	all := append([]string{cm.primaryURL}, cm.backupURLs...)
	if failedOver {
		cm.stats.Failovers++
		cm.logger.WithField("url", all[index]).Info("Switched remote endpoint")
	}
	cm.currentIndex = index
	cm.stats.CurrentURL = all[index]
	cm.stats.LastSuccessAt = time.Now()
}

// getAllURLs returns all available URLs starting from current index
func (cm *ConnectionManager) getAllURLs() ([]string, int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	urls := []string{cm.primaryURL}
	urls = append(urls, cm.backupURLs...)

	if cm.currentIndex > 0 && cm.currentIndex < len(urls) {
		rotated := make([]string, len(urls))
		copy(rotated, urls[cm.currentIndex:])
		copy(rotated[len(urls)-cm.currentIndex:], urls[:cm.currentIndex])
		return rotated, cm.currentIndex
	}

	return urls, 0
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}

// IsHealthy reports the outcome of the last health check
func (cm *ConnectionManager) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats.IsHealthy
}

// Close releases idle connections
func (cm *ConnectionManager) Close() error {
	cm.httpClient.CloseIdleConnections()
	cm.logger.Info("Connection manager closed")
	return nil
}

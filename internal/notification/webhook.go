// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/internal/config"
	"github.com/smartdevs17/droneops-sync/internal/metrics"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

const webhookQueueSize = 64

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	Event     string                   `json:"event"`
	State     models.ConnectivityState `json:"state"`
	Timestamp time.Time                `json:"timestamp"`
	Source    string                   `json:"source"`
	Version   string                   `json:"version"`
}

// WebhookRetryConfig defines retry configuration for webhooks
type WebhookRetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
}

// WebhookSubscriber forwards connectivity changes to HTTP endpoints. Delivery
// runs on its own goroutine so a slow endpoint never blocks Publish.
type WebhookSubscriber struct {
	urls        []string
	retry       WebhookRetryConfig
	httpClient  *http.Client
	logger      *logrus.Entry
	events      chan WebhookPayload
	stopChan    chan struct{}
	stopOnce    sync.Once
	startOnce   sync.Once
	wg          sync.WaitGroup
	unsubscribe func()

	metricsManager *metrics.Manager
}

// NewWebhookSubscriber creates a subscriber for the configured URLs
func NewWebhookSubscriber(cfg *config.NotificationConfig) *WebhookSubscriber {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	return &WebhookSubscriber{
		urls: cfg.WebhookURLs,
		retry: WebhookRetryConfig{
			MaxAttempts: attempts,
			BaseDelay:   cfg.RetryDelay,
			MaxDelay:    30 * time.Second,
		},
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger:   utils.GetLogger().WithField("component", "webhook_subscriber"),
		events:   make(chan WebhookPayload, webhookQueueSize),
		stopChan: make(chan struct{}),
	}
}

// SetMetricsManager attaches metrics recording
func (ws *WebhookSubscriber) SetMetricsManager(m *metrics.Manager) {
	ws.metricsManager = m
}

// Attach subscribes to the tracker and starts delivery
func (ws *WebhookSubscriber) Attach(tracker *StatusTracker) {
	ws.Start()
	ws.unsubscribe = tracker.Subscribe(ws.Notify)
}

// Start starts the delivery goroutine
func (ws *WebhookSubscriber) Start() {
	ws.startOnce.Do(func() {
		ws.wg.Add(1)
		go ws.run()
		ws.logger.WithField("urls", len(ws.urls)).Info("Webhook subscriber started")
	})
}

// Stop detaches from the tracker and waits for in-flight deliveries
func (ws *WebhookSubscriber) Stop() {
	ws.stopOnce.Do(func() {
		if ws.unsubscribe != nil {
			ws.unsubscribe()
		}
		close(ws.stopChan)
	})
	ws.wg.Wait()
	ws.logger.Info("Webhook subscriber stopped")
}

// Notify queues a state change for delivery. It never blocks; when the
// queue is full the change is dropped and logged.
func (ws *WebhookSubscriber) Notify(state models.ConnectivityState) {
	payload := WebhookPayload{
		Event:     "connectivity_changed",
		State:     state,
		Timestamp: time.Now().UTC(),
		Source:    "droneops-sync",
		Version:   "1.0",
	}
	select {
	case ws.events <- payload:
	default:
		ws.logger.WithField("state", state).Warn("Webhook queue full, dropping status change")
		ws.recordFailure()
	}
}

func (ws *WebhookSubscriber) run() {
	defer ws.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-ws.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ws.stopChan:
			return
		case payload := <-ws.events:
			for _, url := range ws.urls {
				if err := ws.sendWithRetry(ctx, url, payload); err != nil {
					ws.logger.WithFields(logrus.Fields{
						"url":   url,
						"state": payload.State,
						"error": err.Error(),
					}).Error("Webhook failed")
					ws.recordFailure()
					continue
				}
				if ws.metricsManager != nil {
					ws.metricsManager.GetPrometheusMetrics().RecordNotificationSent("webhook")
				}
			}
		}
	}
}

func (ws *WebhookSubscriber) recordFailure() {
	if ws.metricsManager != nil {
		ws.metricsManager.GetPrometheusMetrics().RecordNotificationFailure("webhook")
	}
}

// sendWithRetry sends a webhook with retry logic
func (ws *WebhookSubscriber) sendWithRetry(ctx context.Context, url string, payload WebhookPayload) error {
	var lastErr error

	for attempt := 1; attempt <= ws.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := ws.calculateRetryDelay(attempt)
			ws.logger.WithFields(logrus.Fields{
				"url":     url,
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying webhook")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = ws.sendSingle(ctx, url, payload)
		if lastErr == nil {
			return nil
		}
	}

	return lastErr
}

// sendSingle sends a single webhook request
func (ws *WebhookSubscriber) sendSingle(ctx context.Context, url string, payload WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeInternal, "Failed to create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "DroneOps-Sync/1.0")
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeRemoteCall, "Failed to send webhook", err)
	}
	defer resp.Body.Close()

	// Read response body (limited to prevent memory issues)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewAppError(utils.ErrCodeRemoteCall,
			"Webhook returned non-success status",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, string(body)))
	}
	return nil
}

// calculateRetryDelay is base_delay * 2^(attempt-2), capped at MaxDelay
func (ws *WebhookSubscriber) calculateRetryDelay(attempt int) time.Duration {
	delay := ws.retry.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay > ws.retry.MaxDelay {
			break
		}
	}
	if delay > ws.retry.MaxDelay {
		delay = ws.retry.MaxDelay
	}
	return delay
}

// File: internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/internal/config"
	"github.com/smartdevs17/droneops-sync/internal/connection"
	"github.com/smartdevs17/droneops-sync/internal/metrics"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/internal/notification"
	"github.com/smartdevs17/droneops-sync/internal/storage"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// ConnectivityChecker answers whether the remote is reachable right now
// without changing the connectivity state.
type ConnectivityChecker interface {
	Reachable(ctx context.Context) bool
}

// OrchestratorConfig holds drain pass configuration
type OrchestratorConfig struct {
	RemoteTimeout    time.Duration `json:"remote_timeout"`
	MaxRetries       int           `json:"max_retries"`
	RetryBackoffBase time.Duration `json:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `json:"retry_backoff_max"`
}

// OrchestratorStats holds drain statistics
type OrchestratorStats struct {
	PassesTotal   uint64             `json:"passes_total"`
	PassesSkipped uint64             `json:"passes_skipped"`
	PassesFailed  uint64             `json:"passes_failed"`
	LastPassAt    *time.Time         `json:"last_pass_at,omitempty"`
	LastResult    *models.SyncResult `json:"last_result,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
}

// Orchestrator replays the mutation queue against the remote service
type Orchestrator struct {
	store   storage.Storage
	remote  connection.RemoteClient
	tracker *notification.StatusTracker
	checker ConnectivityChecker
	config  *OrchestratorConfig
	logger  *logrus.Entry
	now     func() time.Time

	// set when a trigger arrives while a pass is running
	rerun atomic.Bool

	mu             sync.RWMutex
	stats          OrchestratorStats
	metricsManager *metrics.Manager
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(store storage.Storage, remote connection.RemoteClient, tracker *notification.StatusTracker, cfg *config.SyncConfig) *Orchestrator {
	oc := &OrchestratorConfig{
		RemoteTimeout:    cfg.RemoteTimeout,
		MaxRetries:       cfg.MaxRetries,
		RetryBackoffBase: cfg.RetryBackoffBase,
		RetryBackoffMax:  cfg.RetryBackoffMax,
	}
	if oc.RemoteTimeout <= 0 {
		oc.RemoteTimeout = 15 * time.Second
	}
	if oc.RetryBackoffMax <= 0 {
		oc.RetryBackoffMax = time.Hour
	}

	return &Orchestrator{
		store:   store,
		remote:  remote,
		tracker: tracker,
		config:  oc,
		logger:  utils.GetLogger().WithField("component", "sync_orchestrator"),
		now:     time.Now,
	}
}

// SetConnectivityChecker sets the end-of-pass reachability check. Without
// one the pass always ends online.
func (o *Orchestrator) SetConnectivityChecker(checker ConnectivityChecker) {
	o.checker = checker
}

// SetMetricsManager attaches metrics recording
func (o *Orchestrator) SetMetricsManager(m *metrics.Manager) {
	o.metricsManager = m
}

// Trigger runs a pass and only logs the outcome. It has the shape the
// connectivity monitor expects. Triggers skipped while its pass ran are
// honoured with one more pass once it ends.
func (o *Orchestrator) Trigger(ctx context.Context) {
	for {
		_, ran, err := o.runPass(ctx)
		if err != nil {
			o.logger.WithError(err).Error("Sync pass failed")
			return
		}
		if !ran || ctx.Err() != nil || !o.rerun.CompareAndSwap(true, false) {
			return
		}
		o.logger.Debug("Running follow-up sync pass")
	}
}

// HasRunnableWork reports whether a pass started now would replay at least
// one item: pending, due, and not queued behind a blocked intent of the same
// entity.
func (o *Orchestrator) HasRunnableWork(ctx context.Context) (bool, error) {
	items, err := o.store.ListPending(ctx)
	if err != nil || len(items) == 0 {
		return false, err
	}
	blocked, err := o.blockedEntities(ctx)
	if err != nil {
		return false, err
	}

	now := o.now()
	for _, item := range items {
		key := item.EntityKey()
		if blocked[key] {
			continue
		}
		if !item.Due(now) {
			blocked[key] = true
			continue
		}
		return true, nil
	}
	return false, nil
}

// blockedEntities returns the entities with a dead-lettered intent waiting
// for RequeueDead
func (o *Orchestrator) blockedEntities(ctx context.Context) (map[string]bool, error) {
	dead, err := o.store.ListQueue(ctx, models.QueueStatusError, 0)
	if err != nil {
		return nil, err
	}
	blocked := make(map[string]bool, len(dead))
	for _, item := range dead {
		blocked[item.EntityKey()] = true
	}
	return blocked, nil
}

// TriggerSync drains the queue once. It returns an empty result unless the
// state moves from online to syncing, so concurrent calls never overlap.
func (o *Orchestrator) TriggerSync(ctx context.Context) (*models.SyncResult, error) {
	result, _, err := o.runPass(ctx)
	return result, err
}

// runPass reports whether this call owned a pass
func (o *Orchestrator) runPass(ctx context.Context) (*models.SyncResult, bool, error) {
	for !o.tracker.Transition(models.StateOnline, models.StateSyncing) {
		if o.tracker.Current() == models.StateSyncing {
			o.rerun.Store(true)
		}
		// the running pass may have ended between the two reads
		if o.tracker.Current() != models.StateOnline {
			o.mu.Lock()
			o.stats.PassesSkipped++
			o.mu.Unlock()
			o.logger.WithField("state", o.tracker.Current()).Debug("Sync not started")
			return &models.SyncResult{}, false, nil
		}
	}

	o.rerun.Store(false)

	start := o.now()
	result := &models.SyncResult{}

	defer func() {
		final := models.StateOnline
		if o.checker != nil && !o.checker.Reachable(ctx) {
			final = models.StateOffline
		}
		o.tracker.Transition(models.StateSyncing, final)
	}()

	o.logger.Info("Sync pass started")

	err := o.drain(ctx, result)
	result.Duration = o.now().Sub(start)

	if err == nil {
		err = o.finish(ctx, result)
	}
	o.record(result, err)

	if err != nil {
		return result, true, err
	}

	o.logger.WithFields(logrus.Fields{
		"success":       result.Success,
		"failed":        result.Failed,
		"deferred":      result.Deferred,
		"dead_lettered": result.DeadLettered,
		"requeued":      result.Requeued,
		"duration":      result.Duration,
	}).Info("Sync pass completed")
	return result, true, nil
}

func (o *Orchestrator) drain(ctx context.Context, result *models.SyncResult) error {
	requeued, err := o.recoverOrphans(ctx)
	if err != nil {
		return err
	}
	result.Requeued = requeued

	items, err := o.store.ListPending(ctx)
	if err != nil {
		return err
	}

	// entities whose earlier intent did not complete, starting with dead
	// letters waiting for RequeueDead
	blocked, err := o.blockedEntities(ctx)
	if err != nil {
		return err
	}

	// placeholder ids replaced during this pass; later items were loaded
	// before the remap and still carry the old id
	remapped := make(map[string]string)

	for i, item := range items {
		if ctx.Err() != nil {
			result.Deferred += len(items) - i
			break
		}

		if canonical, ok := remapped[item.EntityKey()]; ok {
			item.EntityID = canonical
		}
		key := item.EntityKey()
		if blocked[key] {
			result.Deferred++
			continue
		}
		if !item.Due(o.now()) {
			blocked[key] = true
			result.Deferred++
			continue
		}

		canonicalID, remoteErr, err := o.replay(ctx, item)
		if err != nil {
			return err
		}
		if remoteErr == nil {
			if canonicalID != "" && canonicalID != item.EntityID {
				remapped[key] = canonicalID
			}
			result.Success++
			o.recordItem(item, "success")
			continue
		}

		blocked[key] = true
		if err := o.handleFailure(ctx, item, remoteErr, result); err != nil {
			return err
		}
	}
	return nil
}

// replay performs the remote call for one item and applies its outcome
// locally. It returns the canonical id the remote confirmed, the remote
// failure if any, and a storage failure that must abort the pass.
func (o *Orchestrator) replay(ctx context.Context, item *models.QueueItem) (string, error, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.config.RemoteTimeout)
	defer cancel()

	entity := models.ParseRecordID(item.EntityID)

	switch item.Type {
	case models.OperationCreate, models.OperationUpdate:
		var (
			rec *connection.RemoteRecord
			err error
		)
		// the id decides: placeholders are created, canonical ids updated
		if entity.IsLocal() {
			rec, err = o.remote.Create(callCtx, item.StoreName, item.Payload)
		} else {
			rec, err = o.remote.Update(callCtx, item.StoreName, item.EntityID, item.Payload)
		}
		if err != nil {
			return "", err, nil
		}
		return rec.ID, nil, o.store.CompleteQueueItem(ctx, item, rec.ID, mergeRemote(item.Payload, rec))

	case models.OperationDelete:
		if !entity.IsLocal() {
			if err := o.remote.Delete(callCtx, item.StoreName, item.EntityID); err != nil {
				return "", err, nil
			}
		}
		return "", nil, o.store.CompleteQueueItem(ctx, item, "", nil)

	default:
		return "", utils.NewAppError(utils.ErrCodeValidation, "Unknown operation type", string(item.Type)), nil
	}
}

// mergeRemote overlays the confirmed remote fields on the queued payload so a
// terse remote answer does not erase local fields. nil keeps local data.
func mergeRemote(payload map[string]interface{}, rec *connection.RemoteRecord) map[string]interface{} {
	if rec.Data == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(payload)+len(rec.Data))
	for k, v := range payload {
		merged[k] = v
	}
	for k, v := range rec.Data {
		merged[k] = v
	}
	merged["id"] = rec.ID
	return merged
}

func (o *Orchestrator) handleFailure(ctx context.Context, item *models.QueueItem, cause error, result *models.SyncResult) error {
	retryCount := item.RetryCount + 1
	result.Failed++

	fields := logrus.Fields{
		"queue_id":    item.ID,
		"store":       item.StoreName,
		"entity_id":   item.EntityID,
		"operation":   item.Type,
		"retry_count": retryCount,
		"error":       cause.Error(),
	}

	if o.config.MaxRetries > 0 && retryCount >= o.config.MaxRetries {
		if err := o.store.DeadLetter(ctx, item, retryCount, cause.Error()); err != nil {
			return err
		}
		result.DeadLettered++
		o.recordItem(item, "dead_letter")
		o.logger.WithFields(fields).Error("Queue item dead-lettered")
		return nil
	}

	next := o.nextAttempt(retryCount)
	if err := o.store.MarkError(ctx, item.ID, retryCount, cause.Error(), next); err != nil {
		return err
	}
	o.recordItem(item, "error")
	o.logger.WithFields(fields).Warn("Queue item failed, will retry")
	return nil
}

// nextAttempt is base * 2^(retryCount-1) from now, capped at the configured
// maximum. A zero base retries on the next pass.
func (o *Orchestrator) nextAttempt(retryCount int) *time.Time {
	base := o.config.RetryBackoffBase
	if base <= 0 {
		return nil
	}
	delay := base
	for i := 1; i < retryCount && delay < o.config.RetryBackoffMax; i++ {
		delay *= 2
	}
	if delay > o.config.RetryBackoffMax {
		delay = o.config.RetryBackoffMax
	}
	next := o.now().Add(delay)
	return &next
}

// recoverOrphans re-enqueues pending records that lost their queue intent,
// which happens when a process died between the two writes of an older
// non-transactional save.
func (o *Orchestrator) recoverOrphans(ctx context.Context) (int, error) {
	requeued := 0
	for _, store := range models.AllStores {
		records, err := o.store.GetRecordsByStatus(ctx, store, models.SyncStatusPending)
		if err != nil {
			return requeued, err
		}
		for _, record := range records {
			pending, err := o.store.HasPendingIntent(ctx, store, record.ID.Value)
			if err != nil {
				return requeued, err
			}
			if pending {
				continue
			}

			op := models.OperationUpdate
			if record.ID.IsLocal() {
				op = models.OperationCreate
			}
			payload := make(map[string]interface{}, len(record.Data)+1)
			for k, v := range record.Data {
				payload[k] = v
			}
			payload["id"] = record.ID.Value

			if _, err := o.store.Enqueue(ctx, op, store, record.ID.Value, payload); err != nil {
				return requeued, err
			}
			requeued++
			o.logger.WithFields(logrus.Fields{
				"store":     store,
				"entity_id": record.ID.Value,
				"operation": op,
			}).Warn("Re-enqueued orphaned record")
		}
	}
	return requeued, nil
}

func (o *Orchestrator) finish(ctx context.Context, result *models.SyncResult) error {
	purged, err := o.store.PurgeSuccessful(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		o.logger.WithField("purged", purged).Debug("Purged confirmed intents")
	}

	if err := o.store.SetMetadata(ctx, models.MetaLastSyncTime, o.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeInternal, "Failed to encode sync result", err)
	}
	return o.store.SetMetadata(ctx, models.MetaLastSyncResult, string(encoded))
}

func (o *Orchestrator) record(result *models.SyncResult, err error) {
	now := o.now()

	o.mu.Lock()
	o.stats.PassesTotal++
	o.stats.LastPassAt = &now
	copied := *result
	o.stats.LastResult = &copied
	o.stats.LastError = ""
	if err != nil {
		o.stats.PassesFailed++
		o.stats.LastError = err.Error()
	}
	o.mu.Unlock()

	if o.metricsManager == nil {
		return
	}
	pm := o.metricsManager.GetPrometheusMetrics()
	outcome := "completed"
	switch {
	case err != nil:
		outcome = "aborted"
	case result.Failed > 0 || result.Deferred > 0:
		outcome = "partial"
	}
	pm.RecordSyncPass(outcome, result.Duration)

	// best effort; the queue gauges catch up on the next pass
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pending, perr := o.store.CountQueue(ctx, models.QueueStatusPending)
	dead, derr := o.store.CountQueue(ctx, models.QueueStatusError)
	if perr == nil && derr == nil {
		pm.UpdateQueueDepth(pending, dead)
	}
}

func (o *Orchestrator) recordItem(item *models.QueueItem, result string) {
	if o.metricsManager != nil {
		o.metricsManager.GetPrometheusMetrics().RecordSyncItem(string(item.StoreName), string(item.Type), result)
	}
}

// LastSyncTime reads the end time of the last completed pass
func (o *Orchestrator) LastSyncTime(ctx context.Context) (*time.Time, error) {
	raw, found, err := o.store.GetMetadata(ctx, models.MetaLastSyncTime)
	if err != nil || !found {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeStorage, "Corrupt lastSyncTime metadata", err)
	}
	return &t, nil
}

// LastSyncResult reads the result of the last completed pass
func (o *Orchestrator) LastSyncResult(ctx context.Context) (*models.SyncResult, error) {
	raw, found, err := o.store.GetMetadata(ctx, models.MetaLastSyncResult)
	if err != nil || !found {
		return nil, err
	}
	var result models.SyncResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeStorage, "Corrupt lastSyncResult metadata", err)
	}
	return &result, nil
}

// GetStats returns drain statistics
func (o *Orchestrator) GetStats() OrchestratorStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	stats := o.stats
	if stats.LastResult != nil {
		copied := *stats.LastResult
		stats.LastResult = &copied
	}
	return stats
}

package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/droneops-sync/internal/metrics"
	"github.com/smartdevs17/droneops-sync/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) record(operation, table string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// SaveRecordAndEnqueue saves a record with its intent and records metrics
func (s *StorageWithMetrics) SaveRecordAndEnqueue(ctx context.Context, record *models.Record, op models.OperationType, payload map[string]interface{}) (int64, error) {
	start := time.Now()
	id, err := s.Storage.SaveRecordAndEnqueue(ctx, record, op, payload)
	s.record("save_enqueue", string(record.Store), start, err)
	return id, err
}

// DeleteRecordAndEnqueue deletes a record with its intent and records metrics
func (s *StorageWithMetrics) DeleteRecordAndEnqueue(ctx context.Context, store models.StoreName, id string) (int64, error) {
	start := time.Now()
	qid, err := s.Storage.DeleteRecordAndEnqueue(ctx, store, id)
	s.record("delete_enqueue", string(store), start, err)
	return qid, err
}

// ListPending lists the queue and records metrics
func (s *StorageWithMetrics) ListPending(ctx context.Context) ([]*models.QueueItem, error) {
	start := time.Now()
	items, err := s.Storage.ListPending(ctx)
	s.record("select", "sync_queue", start, err)
	return items, err
}

// CompleteQueueItem applies a confirmed write and records metrics
func (s *StorageWithMetrics) CompleteQueueItem(ctx context.Context, item *models.QueueItem, canonicalID string, remoteData map[string]interface{}) error {
	start := time.Now()
	err := s.Storage.CompleteQueueItem(ctx, item, canonicalID, remoteData)
	s.record("complete", "sync_queue", start, err)
	return err
}

// MarkError records a failed attempt and records metrics
func (s *StorageWithMetrics) MarkError(ctx context.Context, id int64, retryCount int, errMsg string, nextAttemptAt *time.Time) error {
	start := time.Now()
	err := s.Storage.MarkError(ctx, id, retryCount, errMsg, nextAttemptAt)
	s.record("mark_error", "sync_queue", start, err)
	return err
}

// PurgeSuccessful purges confirmed intents and records metrics
func (s *StorageWithMetrics) PurgeSuccessful(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.Storage.PurgeSuccessful(ctx)
	s.record("purge", "sync_queue", start, err)
	return n, err
}

// GetAllRecords reads a store and records metrics
func (s *StorageWithMetrics) GetAllRecords(ctx context.Context, store models.StoreName) ([]*models.Record, error) {
	start := time.Now()
	records, err := s.Storage.GetAllRecords(ctx, store)
	s.record("select", string(store), start, err)
	return records, err
}

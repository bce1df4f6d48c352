// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/droneops-sync/internal/models"
)

// Storage defines the durable local store: entity records, the mutation
// queue and sync metadata.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Record operations
	SaveRecord(ctx context.Context, record *models.Record) error
	GetRecord(ctx context.Context, store models.StoreName, id string) (*models.Record, error)
	GetAllRecords(ctx context.Context, store models.StoreName) ([]*models.Record, error)
	GetRecordsByStatus(ctx context.Context, store models.StoreName, status models.SyncStatus) ([]*models.Record, error)
	SetRecordStatus(ctx context.Context, store models.StoreName, id string, status models.SyncStatus) error
	DeleteRecord(ctx context.Context, store models.StoreName, id string) error

	// Record write plus queue intent in one transaction
	SaveRecordAndEnqueue(ctx context.Context, record *models.Record, op models.OperationType, payload map[string]interface{}) (int64, error)
	DeleteRecordAndEnqueue(ctx context.Context, store models.StoreName, id string) (int64, error)

	// Queue operations
	Enqueue(ctx context.Context, op models.OperationType, store models.StoreName, entityID string, payload map[string]interface{}) (int64, error)
	ListPending(ctx context.Context) ([]*models.QueueItem, error)
	ListQueue(ctx context.Context, status models.QueueStatus, limit int) ([]*models.QueueItem, error)
	GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error)
	MarkSuccess(ctx context.Context, id int64) error
	MarkError(ctx context.Context, id int64, retryCount int, errMsg string, nextAttemptAt *time.Time) error
	DeadLetter(ctx context.Context, item *models.QueueItem, retryCount int, errMsg string) error
	CompleteQueueItem(ctx context.Context, item *models.QueueItem, canonicalID string, remoteData map[string]interface{}) error
	PurgeSuccessful(ctx context.Context) (int64, error)
	CountQueue(ctx context.Context, status models.QueueStatus) (int64, error)
	HasPendingIntent(ctx context.Context, store models.StoreName, entityID string) (bool, error)
	RequeueDead(ctx context.Context) (int64, error)

	// Metadata operations
	GetMetadata(ctx context.Context, key string) (string, bool, error)
	SetMetadata(ctx context.Context, key, value string) error

	// Statistics
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	RecordCounts map[models.StoreName]int64  `json:"record_counts"`
	StatusCounts map[models.SyncStatus]int64 `json:"status_counts"`
	QueuePending int64                       `json:"queue_pending"`
	QueueSuccess int64                       `json:"queue_success"`
	QueueDead    int64                       `json:"queue_dead"`
	OldestIntent *time.Time                  `json:"oldest_intent,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}

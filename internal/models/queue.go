package models

import "time"

// OperationType is the kind of mutation a queue item replays
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// QueueStatus is the lifecycle state of a queue item
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSuccess QueueStatus = "success"
	// QueueStatusError marks a dead-lettered item that exhausted its retries
	QueueStatusError QueueStatus = "error"
)

// QueueItem is one pending write intent against the remote service
type QueueItem struct {
	ID            int64                  `json:"id"`
	Type          OperationType          `json:"type"`
	StoreName     StoreName              `json:"storeName"`
	EntityID      string                 `json:"entityId"`
	Payload       map[string]interface{} `json:"payload"`
	Status        QueueStatus            `json:"status"`
	Timestamp     time.Time              `json:"timestamp"`
	RetryCount    int                    `json:"retryCount"`
	LastAttempt   *time.Time             `json:"lastAttempt,omitempty"`
	NextAttemptAt *time.Time             `json:"nextAttemptAt,omitempty"`
	LastError     string                 `json:"lastError,omitempty"`
}

// Due reports whether the item may be attempted at now
func (q *QueueItem) Due(now time.Time) bool {
	return q.NextAttemptAt == nil || !q.NextAttemptAt.After(now)
}

// EntityKey identifies the record an item targets across stores
func (q *QueueItem) EntityKey() string {
	return string(q.StoreName) + "/" + q.EntityID
}

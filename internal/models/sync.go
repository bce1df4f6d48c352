package models

import "time"

// ConnectivityState is the process-wide connectivity value
type ConnectivityState string

const (
	StateOffline ConnectivityState = "offline"
	StateOnline  ConnectivityState = "online"
	StateSyncing ConnectivityState = "syncing"
)

// Metadata keys
const (
	MetaLastSyncTime   = "lastSyncTime"
	MetaLastSyncResult = "lastSyncResult"
)

// SyncResult reports the outcome of one drain pass
type SyncResult struct {
	Success      int           `json:"success"`
	Failed       int           `json:"failed"`
	Deferred     int           `json:"deferred"`
	DeadLettered int           `json:"deadLettered"`
	Requeued     int           `json:"requeued"`
	Duration     time.Duration `json:"duration"`
}

// SyncStats is the status-display summary
type SyncStats struct {
	State             ConnectivityState `json:"state"`
	StateChangedAt    time.Time         `json:"stateChangedAt"`
	PendingSyncCount  int64             `json:"pendingSyncCount"`
	DeadLetterCount   int64             `json:"deadLetterCount"`
	LocalRecordCounts map[StoreName]int `json:"localRecordCounts"`
	LastSyncTime      *time.Time        `json:"lastSyncTime,omitempty"`
}

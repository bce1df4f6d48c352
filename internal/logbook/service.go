// File: internal/logbook/service.go
package logbook

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/internal/config"
	"github.com/smartdevs17/droneops-sync/internal/connection"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/internal/notification"
	"github.com/smartdevs17/droneops-sync/internal/orchestrator"
	"github.com/smartdevs17/droneops-sync/internal/storage"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// Service is the caller-facing API for flight logs, inspections and
// maintenance records. Writes always land locally first.
type Service struct {
	store        storage.Storage
	remote       connection.RemoteClient
	tracker      *notification.StatusTracker
	orchestrator *orchestrator.Orchestrator
	syncOnWrite  bool
	readTimeout  time.Duration
	logger       *logrus.Entry
	now          func() time.Time

	wg sync.WaitGroup
}

// NewService creates the logbook service
func NewService(store storage.Storage, remote connection.RemoteClient, tracker *notification.StatusTracker,
	orch *orchestrator.Orchestrator, cfg *config.SyncConfig) *Service {
	readTimeout := cfg.RemoteTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	return &Service{
		store:        store,
		remote:       remote,
		tracker:      tracker,
		orchestrator: orch,
		syncOnWrite:  cfg.SyncOnWrite,
		readTimeout:  readTimeout,
		logger:       utils.GetLogger().WithField("component", "logbook"),
		now:          time.Now,
	}
}

// Save stores a record and queues its replay. Data without an id gets a
// placeholder; the returned record carries the id it was stored under.
func (s *Service) Save(ctx context.Context, store models.StoreName, data map[string]interface{}) (*models.Record, error) {
	if !store.Valid() {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Unknown store", string(store))
	}

	payload := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}

	var id models.RecordID
	if raw := models.IDFromData(payload); raw != "" {
		id = models.ParseRecordID(raw)
	} else {
		id = models.NewLocalRecordID(s.now())
	}
	payload["id"] = id.Value

	op := models.OperationUpdate
	if id.IsLocal() {
		op = models.OperationCreate
	}

	record := &models.Record{
		ID:         id,
		Store:      store,
		Data:       payload,
		SyncStatus: models.SyncStatusPending,
	}
	queueID, err := s.store.SaveRecordAndEnqueue(ctx, record, op, payload)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"store":     store,
		"id":        id.Value,
		"operation": op,
		"queue_id":  queueID,
	}).Debug("Record saved locally")

	s.syncInBackground()
	return record, nil
}

// SaveFlightLog saves a flight log
func (s *Service) SaveFlightLog(ctx context.Context, data map[string]interface{}) (*models.Record, error) {
	return s.Save(ctx, models.StoreFlightLogs, data)
}

// SaveInspection saves a pre-flight inspection
func (s *Service) SaveInspection(ctx context.Context, data map[string]interface{}) (*models.Record, error) {
	return s.Save(ctx, models.StoreInspections, data)
}

// SaveMaintenanceRecord saves a maintenance record
func (s *Service) SaveMaintenanceRecord(ctx context.Context, data map[string]interface{}) (*models.Record, error) {
	return s.Save(ctx, models.StoreMaintenanceRecords, data)
}

// Delete removes a record locally and queues the remote delete
func (s *Service) Delete(ctx context.Context, store models.StoreName, id string) error {
	if !store.Valid() {
		return utils.NewAppError(utils.ErrCodeValidation, "Unknown store", string(store))
	}
	if id == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Record id is required", string(store))
	}
	if _, err := s.store.DeleteRecordAndEnqueue(ctx, store, id); err != nil {
		return err
	}
	s.syncInBackground()
	return nil
}

// Get returns one locally held record
func (s *Service) Get(ctx context.Context, store models.StoreName, id string) (*models.Record, error) {
	return s.store.GetRecord(ctx, store, id)
}

// GetAll lists a store. While online the remote list is authoritative and
// local records not yet synced are laid over it; any remote failure falls
// back to the local store.
func (s *Service) GetAll(ctx context.Context, store models.StoreName) ([]map[string]interface{}, error) {
	if !store.Valid() {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Unknown store", string(store))
	}

	local, err := s.store.GetAllRecords(ctx, store)
	if err != nil {
		return nil, err
	}

	if s.tracker.Current() == models.StateOnline {
		remote, err := s.listRemote(ctx, store)
		if err == nil {
			return mergeUnsynced(remote, local), nil
		}
		s.logger.WithFields(logrus.Fields{
			"store": store,
			"error": err.Error(),
		}).Debug("Remote read failed, using local records")
	}

	out := make([]map[string]interface{}, 0, len(local))
	for _, record := range local {
		out = append(out, record.View())
	}
	return out, nil
}

func (s *Service) listRemote(ctx context.Context, store models.StoreName) ([]map[string]interface{}, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	return s.remote.List(readCtx, store)
}

func mergeUnsynced(remote []map[string]interface{}, local []*models.Record) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(remote)+len(local))
	index := make(map[string]int, len(remote))
	for _, item := range remote {
		if id := models.IDFromData(item); id != "" {
			index[id] = len(out)
		}
		out = append(out, item)
	}
	for _, record := range local {
		if record.SyncStatus == models.SyncStatusSynced {
			continue
		}
		if i, ok := index[record.ID.Value]; ok {
			out[i] = record.View()
			continue
		}
		out = append(out, record.View())
	}
	return out
}

// GetAllFlightLogs lists flight logs
func (s *Service) GetAllFlightLogs(ctx context.Context) ([]map[string]interface{}, error) {
	return s.GetAll(ctx, models.StoreFlightLogs)
}

// GetAllInspections lists inspections
func (s *Service) GetAllInspections(ctx context.Context) ([]map[string]interface{}, error) {
	return s.GetAll(ctx, models.StoreInspections)
}

// GetAllMaintenanceRecords lists maintenance records
func (s *Service) GetAllMaintenanceRecords(ctx context.Context) ([]map[string]interface{}, error) {
	return s.GetAll(ctx, models.StoreMaintenanceRecords)
}

// OnStatusChange registers a connectivity listener and returns its
// unsubscribe function
func (s *Service) OnStatusChange(listener notification.StatusListener) func() {
	return s.tracker.Subscribe(listener)
}

// CurrentStatus returns the connectivity state
func (s *Service) CurrentStatus() models.ConnectivityState {
	return s.tracker.Current()
}

// GetSyncStats summarizes queue depth, record counts and the last pass
func (s *Service) GetSyncStats(ctx context.Context) (*models.SyncStats, error) {
	storageStats, err := s.store.GetStorageStats(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.SyncStats{
		State:             s.tracker.Current(),
		StateChangedAt:    s.tracker.ChangedAt(),
		PendingSyncCount:  storageStats.QueuePending,
		DeadLetterCount:   storageStats.QueueDead,
		LocalRecordCounts: make(map[models.StoreName]int, len(models.AllStores)),
	}
	for _, store := range models.AllStores {
		stats.LocalRecordCounts[store] = int(storageStats.RecordCounts[store])
	}

	if stats.LastSyncTime, err = s.orchestrator.LastSyncTime(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

// TriggerSync runs a drain pass now if the service is online
func (s *Service) TriggerSync(ctx context.Context) (*models.SyncResult, error) {
	return s.orchestrator.TriggerSync(ctx)
}

// RetryDeadLetters gives dead-lettered intents a fresh retry budget
func (s *Service) RetryDeadLetters(ctx context.Context) (int64, error) {
	moved, err := s.store.RequeueDead(ctx)
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		s.logger.WithField("requeued", moved).Info("Dead-lettered intents requeued")
		s.syncInBackground()
	}
	return moved, nil
}

// syncInBackground asks for a pass after a write. A write that lands during
// a running pass is picked up by the follow-up pass the orchestrator runs.
func (s *Service) syncInBackground() {
	if !s.syncOnWrite {
		return
	}
	if state := s.tracker.Current(); state != models.StateOnline && state != models.StateSyncing {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.orchestrator.Trigger(context.Background())
	}()
}

// Close waits for background syncs started by writes
func (s *Service) Close() {
	s.wg.Wait()
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartdevs17/droneops-sync/internal/config"
	"github.com/smartdevs17/droneops-sync/internal/metrics"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) Storage {
	t.Helper()
	store := NewSQLiteStorage(&StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "droneops.db"),
		MaxConnections:   1,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

// newPostgresStore connects to DROPSYNC_TEST_POSTGRES_DSN and starts from
// empty tables.
func newPostgresStore(t *testing.T) Storage {
	t.Helper()
	dsn := os.Getenv("DROPSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DROPSYNC_TEST_POSTGRES_DSN not set")
	}
	store := NewPostgreSQLStorage(&StorageConfig{Type: "postgres", ConnectionString: dsn, MaxConnections: 4})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	for _, table := range []string{"flight_logs", "inspections", "maintenance_records", "sync_queue", "sync_metadata"} {
		_, err := store.db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type storeFactory func(t *testing.T) Storage

func engines() map[string]storeFactory {
	return map[string]storeFactory{
		"sqlite":   newSQLiteStore,
		"postgres": newPostgresStore,
	}
}

func flightLog(id models.RecordID, pilot string) *models.Record {
	return &models.Record{
		ID:    id,
		Store: models.StoreFlightLogs,
		Data:  map[string]interface{}{"pilot": pilot, "duration": 42.0},
	}
}

func TestRecordCRUD(t *testing.T) {
	for name, factory := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			rec := flightLog(models.LocalID("local-1-a"), "ana")
			require.NoError(t, s.SaveRecord(ctx, rec))
			assert.Equal(t, models.SyncStatusPending, rec.SyncStatus)
			assert.False(t, rec.LocalTimestamp.IsZero())

			got, err := s.GetRecord(ctx, models.StoreFlightLogs, "local-1-a")
			require.NoError(t, err)
			assert.True(t, got.ID.IsLocal())
			assert.Equal(t, "ana", got.Data["pilot"])
			assert.Equal(t, 42.0, got.Data["duration"])

			rec.Data["pilot"] = "ben"
			require.NoError(t, s.SaveRecord(ctx, rec))
			got, err = s.GetRecord(ctx, models.StoreFlightLogs, "local-1-a")
			require.NoError(t, err)
			assert.Equal(t, "ben", got.Data["pilot"])

			all, err := s.GetAllRecords(ctx, models.StoreFlightLogs)
			require.NoError(t, err)
			assert.Len(t, all, 1)

			require.NoError(t, s.DeleteRecord(ctx, models.StoreFlightLogs, "local-1-a"))
			require.NoError(t, s.DeleteRecord(ctx, models.StoreFlightLogs, "local-1-a"))
			_, err = s.GetRecord(ctx, models.StoreFlightLogs, "local-1-a")
			assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))
		})
	}
}

func TestRecordsByStatus(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	require.NoError(t, s.SaveRecord(ctx, flightLog(models.LocalID("local-1-a"), "ana")))
	synced := flightLog(models.RemoteID("7"), "ben")
	synced.SyncStatus = models.SyncStatusSynced
	require.NoError(t, s.SaveRecord(ctx, synced))

	pending, err := s.GetRecordsByStatus(ctx, models.StoreFlightLogs, models.SyncStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "local-1-a", pending[0].ID.Value)

	require.NoError(t, s.SetRecordStatus(ctx, models.StoreFlightLogs, "7", models.SyncStatusError))
	errored, err := s.GetRecordsByStatus(ctx, models.StoreFlightLogs, models.SyncStatusError)
	require.NoError(t, err)
	require.Len(t, errored, 1)
	assert.False(t, errored[0].ID.IsLocal())
}

func TestUnknownStoreRejected(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	err := s.SaveRecord(ctx, &models.Record{ID: models.LocalID("x"), Store: "drones; DROP TABLE x"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	_, err = s.Enqueue(ctx, models.OperationCreate, "nope", "x", nil)
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))
}

func TestSaveRecordAndEnqueueIsAtomic(t *testing.T) {
	for name, factory := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			rec := flightLog(models.LocalID("local-1-a"), "ana")
			id, err := s.SaveRecordAndEnqueue(ctx, rec, models.OperationCreate, rec.Data)
			require.NoError(t, err)
			assert.Greater(t, id, int64(0))

			items, err := s.ListPending(ctx)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, models.OperationCreate, items[0].Type)
			assert.Equal(t, "local-1-a", items[0].EntityID)
			assert.Equal(t, "ana", items[0].Payload["pilot"])

			// an invalid operation rolls back the record write as well
			bad := flightLog(models.LocalID("local-2-b"), "cy")
			_, err = s.SaveRecordAndEnqueue(ctx, bad, "upsert", bad.Data)
			require.Error(t, err)
			_, err = s.GetRecord(ctx, models.StoreFlightLogs, "local-2-b")
			assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))
		})
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	var ids []int64
	for i, entity := range []string{"local-1-a", "local-2-b", "local-3-c"} {
		id, err := s.Enqueue(ctx, models.OperationCreate, models.StoreInspections, entity, map[string]interface{}{"n": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	items, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, ids[i], item.ID)
	}
}

func TestMarkErrorAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	rec := flightLog(models.LocalID("local-1-a"), "ana")
	id, err := s.SaveRecordAndEnqueue(ctx, rec, models.OperationCreate, rec.Data)
	require.NoError(t, err)

	next := time.Now().Add(time.Minute)
	require.NoError(t, s.MarkError(ctx, id, 1, "HTTP 500", &next))

	item, err := s.GetQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.Equal(t, "HTTP 500", item.LastError)
	require.NotNil(t, item.LastAttempt)
	require.NotNil(t, item.NextAttemptAt)
	assert.False(t, item.Due(time.Now()))

	require.NoError(t, s.DeadLetter(ctx, item, 2, "HTTP 500"))
	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := s.GetRecord(ctx, models.StoreFlightLogs, "local-1-a")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, got.SyncStatus)

	dead, err := s.CountQueue(ctx, models.QueueStatusError)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	moved, err := s.RequeueDead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	item, err = s.GetQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, item.Status)
	assert.Equal(t, 0, item.RetryCount)
	assert.Nil(t, item.NextAttemptAt)

	got, err = s.GetRecord(ctx, models.StoreFlightLogs, "local-1-a")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
}

func TestCompleteQueueItemRemapsPlaceholder(t *testing.T) {
	for name, factory := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			rec := flightLog(models.LocalID("local-1-a"), "ana")
			_, err := s.SaveRecordAndEnqueue(ctx, rec, models.OperationCreate, rec.Data)
			require.NoError(t, err)
			rec.Data["pilot"] = "ana maria"
			_, err = s.SaveRecordAndEnqueue(ctx, rec, models.OperationUpdate, rec.Data)
			require.NoError(t, err)

			items, err := s.ListPending(ctx)
			require.NoError(t, err)
			require.Len(t, items, 2)

			remote := map[string]interface{}{"id": 101.0, "pilot": "ana"}
			require.NoError(t, s.CompleteQueueItem(ctx, items[0], "101", remote))

			// the placeholder is gone and the later update follows the new id
			_, err = s.GetRecord(ctx, models.StoreFlightLogs, "local-1-a")
			assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))

			got, err := s.GetRecord(ctx, models.StoreFlightLogs, "101")
			require.NoError(t, err)
			assert.False(t, got.ID.IsLocal())
			assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
			assert.Equal(t, "ana maria", got.Data["pilot"])

			pending, err := s.ListPending(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, "101", pending[0].EntityID)

			updated := map[string]interface{}{"id": 101.0, "pilot": "ana maria"}
			require.NoError(t, s.CompleteQueueItem(ctx, pending[0], "101", updated))

			got, err = s.GetRecord(ctx, models.StoreFlightLogs, "101")
			require.NoError(t, err)
			assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)

			all, err := s.GetAllRecords(ctx, models.StoreFlightLogs)
			require.NoError(t, err)
			for _, r := range all {
				if r.SyncStatus == models.SyncStatusSynced {
					assert.False(t, r.ID.IsLocal())
				}
			}
		})
	}
}

func TestCompleteQueueItemReplacesStaleCanonicalCopy(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	stale := flightLog(models.RemoteID("55"), "old")
	stale.SyncStatus = models.SyncStatusSynced
	require.NoError(t, s.SaveRecord(ctx, stale))

	rec := flightLog(models.LocalID("local-1-a"), "new")
	_, err := s.SaveRecordAndEnqueue(ctx, rec, models.OperationCreate, rec.Data)
	require.NoError(t, err)

	items, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CompleteQueueItem(ctx, items[0], "55", map[string]interface{}{"id": "55", "pilot": "new"}))

	all, err := s.GetAllRecords(ctx, models.StoreFlightLogs)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].Data["pilot"])
	assert.Equal(t, models.SyncStatusSynced, all[0].SyncStatus)
}

func TestDeleteRecordAndEnqueue(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	rec := flightLog(models.RemoteID("9"), "ana")
	rec.SyncStatus = models.SyncStatusSynced
	require.NoError(t, s.SaveRecord(ctx, rec))

	_, err := s.DeleteRecordAndEnqueue(ctx, models.StoreFlightLogs, "9")
	require.NoError(t, err)

	_, err = s.GetRecord(ctx, models.StoreFlightLogs, "9")
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))

	items, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.OperationDelete, items[0].Type)

	require.NoError(t, s.CompleteQueueItem(ctx, items[0], "", nil))
	done, err := s.GetQueueItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusSuccess, done.Status)
}

func TestPurgeSuccessfulIsIdempotent(t *testing.T) {
	for name, factory := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			first, err := s.Enqueue(ctx, models.OperationUpdate, models.StoreMaintenanceRecords, "3", nil)
			require.NoError(t, err)
			_, err = s.Enqueue(ctx, models.OperationUpdate, models.StoreMaintenanceRecords, "4", nil)
			require.NoError(t, err)
			require.NoError(t, s.MarkSuccess(ctx, first))

			n, err := s.PurgeSuccessful(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			n, err = s.PurgeSuccessful(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(0), n)

			total, err := s.CountQueue(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, int64(1), total)
		})
	}
}

func TestHasPendingIntent(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	has, err := s.HasPendingIntent(ctx, models.StoreInspections, "local-1-a")
	require.NoError(t, err)
	assert.False(t, has)

	id, err := s.Enqueue(ctx, models.OperationCreate, models.StoreInspections, "local-1-a", nil)
	require.NoError(t, err)
	has, err = s.HasPendingIntent(ctx, models.StoreInspections, "local-1-a")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.MarkSuccess(ctx, id))
	has, err = s.HasPendingIntent(ctx, models.StoreInspections, "local-1-a")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMetadata(t *testing.T) {
	for name, factory := range engines() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			_, found, err := s.GetMetadata(ctx, models.MetaLastSyncTime)
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.SetMetadata(ctx, models.MetaLastSyncTime, "2024-01-01T00:00:00Z"))
			require.NoError(t, s.SetMetadata(ctx, models.MetaLastSyncTime, "2024-01-02T00:00:00Z"))

			value, found, err := s.GetMetadata(ctx, models.MetaLastSyncTime)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "2024-01-02T00:00:00Z", value)
		})
	}
}

func TestGetStorageStats(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	rec := flightLog(models.LocalID("local-1-a"), "ana")
	_, err := s.SaveRecordAndEnqueue(ctx, rec, models.OperationCreate, rec.Data)
	require.NoError(t, err)
	insp := &models.Record{ID: models.RemoteID("2"), Store: models.StoreInspections, SyncStatus: models.SyncStatusSynced}
	require.NoError(t, s.SaveRecord(ctx, insp))

	stats, err := s.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RecordCounts[models.StoreFlightLogs])
	assert.Equal(t, int64(1), stats.RecordCounts[models.StoreInspections])
	assert.Equal(t, int64(0), stats.RecordCounts[models.StoreMaintenanceRecords])
	assert.Equal(t, int64(1), stats.StatusCounts[models.SyncStatusPending])
	assert.Equal(t, int64(1), stats.QueuePending)
	assert.NotNil(t, stats.OldestIntent)
}

func TestMigrateIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "droneops.db")
	store := NewSQLiteStorage(&StorageConfig{ConnectionString: path, MaxConnections: 1})
	require.NoError(t, store.Connect())
	defer store.Close()

	require.NoError(t, store.Migrate())
	require.NoError(t, store.Migrate())

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(GetSQLiteMigrations()), count)

	var checksum string
	require.NoError(t, store.db.QueryRow("SELECT checksum FROM schema_migrations WHERE version = '001'").Scan(&checksum))
	assert.Equal(t, utils.Checksum(GetSQLiteMigrations()[0].SQL), checksum)
}

func TestNotConnected(t *testing.T) {
	store := NewSQLiteStorage(&StorageConfig{Type: "sqlite", ConnectionString: ":memory:"})
	_, err := store.ListPending(context.Background())
	assert.True(t, utils.IsCode(err, utils.ErrCodeStorage))
	assert.Error(t, store.Ping())
}

func TestBindDollar(t *testing.T) {
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", bindDollar("SELECT 1 WHERE a = ? AND b = ?"))
}

func TestFactory(t *testing.T) {
	s, err := NewStorage(&config.StorageConfig{Type: "sqlite", ConnectionString: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStorage{}, s)

	s, err = NewStorage(&config.StorageConfig{Type: "PostgreSQL", ConnectionString: "postgres://x"})
	require.NoError(t, err)
	assert.IsType(t, &PostgreSQLStorage{}, s)

	_, err = NewStorage(&config.StorageConfig{Type: "mongo", ConnectionString: "mongodb://x"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))

	// the factory refuses what validation refuses
	_, err = NewStorage(&config.StorageConfig{Type: "sqlite"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))
	_, err = NewStorage(&config.StorageConfig{Type: "sqlite", ConnectionString: "x", MaxConnections: -1})
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))

	assert.Equal(t, []string{"postgres", "postgresql", "sqlite"}, SupportedTypes())
}

func TestValidateStorageConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.StorageConfig
		valid bool
	}{
		{"sqlite", config.StorageConfig{Type: "sqlite", ConnectionString: "x"}, true},
		{"postgres upper case", config.StorageConfig{Type: "POSTGRES", ConnectionString: "x"}, true},
		{"missing type", config.StorageConfig{ConnectionString: "x"}, false},
		{"missing connection string", config.StorageConfig{Type: "sqlite"}, false},
		{"unsupported type", config.StorageConfig{Type: "redis", ConnectionString: "x"}, false},
		{"negative connections", config.StorageConfig{Type: "sqlite", ConnectionString: "x", MaxConnections: -1}, false},
		{"negative idle time", config.StorageConfig{Type: "sqlite", ConnectionString: "x", MaxIdleTime: -time.Second}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStorageConfig(&tt.cfg)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))
		})
	}
}

func TestStorageWithMetrics(t *testing.T) {
	ctx := context.Background()
	manager := metrics.NewManager()
	s := NewStorageWithMetrics(newSQLiteStore(t), manager)

	rec := flightLog(models.LocalID("local-1-a"), "ana")
	_, err := s.SaveRecordAndEnqueue(ctx, rec, models.OperationCreate, rec.Data)
	require.NoError(t, err)
	_, err = s.ListPending(ctx)
	require.NoError(t, err)

	ops := manager.GetPrometheusMetrics().DatabaseOperationsTotal
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("save_enqueue", "flight_logs", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("select", "sync_queue", "success")))
}

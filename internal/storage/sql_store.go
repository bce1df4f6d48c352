// File: internal/storage/sql_store.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// sqlStore holds the record, queue and metadata operations shared by the
// SQLite and PostgreSQL engines. Queries are written with ? placeholders and
// rebound by the engine.
type sqlStore struct {
	db     *sql.DB
	logger *logrus.Logger
	bind   func(query string) string
}

func bindQuestion(query string) string { return query }

func bindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func storageError(message string, err error) error {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return utils.WrapAppError(utils.ErrCodeStorage, message, err)
}

func errNotConnected() error {
	return utils.NewAppError(utils.ErrCodeStorage, "Database not connected", "")
}

// tableFor maps a store to its table. Only known stores reach SQL text.
func tableFor(store models.StoreName) (string, error) {
	if !store.Valid() {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Unknown store", string(store))
	}
	return string(store), nil
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullableNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func marshalData(data map[string]interface{}) (string, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", storageError("Failed to marshal record data", err)
	}
	return string(raw), nil
}

func unmarshalData(raw string) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	if raw == "" || raw == "null" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, storageError("Failed to unmarshal record data", err)
	}
	return data, nil
}

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return errNotConnected()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("Failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageError("Failed to commit transaction", err)
	}
	return nil
}

// SaveRecord upserts a record. Missing status and timestamps are defaulted.
func (s *sqlStore) SaveRecord(ctx context.Context, record *models.Record) error {
	if s.db == nil {
		return errNotConnected()
	}
	return s.saveRecord(ctx, s.db, record)
}

func (s *sqlStore) saveRecord(ctx context.Context, q queryer, record *models.Record) error {
	table, err := tableFor(record.Store)
	if err != nil {
		return err
	}
	if record.ID.IsZero() {
		return utils.NewAppError(utils.ErrCodeValidation, "Record id is required", string(record.Store))
	}

	now := time.Now().UTC()
	if record.SyncStatus == "" {
		record.SyncStatus = models.SyncStatusPending
	}
	if record.LocalTimestamp.IsZero() {
		record.LocalTimestamp = now
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	dataJSON, err := marshalData(record.Data)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, data, sync_status, local_timestamp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			data = excluded.data,
			sync_status = excluded.sync_status,
			local_timestamp = excluded.local_timestamp,
			updated_at = excluded.updated_at
	`, table)

	_, err = q.ExecContext(ctx, s.bind(query),
		record.ID.Value, dataJSON, string(record.SyncStatus),
		toNanos(record.LocalTimestamp), toNanos(record.CreatedAt), toNanos(record.UpdatedAt))
	if err != nil {
		return storageError("Failed to save record", err)
	}
	return nil
}

func scanRecord(store models.StoreName, row rowScanner) (*models.Record, error) {
	var (
		id, dataJSON, status          string
		localTS, createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &dataJSON, &status, &localTS, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	data, err := unmarshalData(dataJSON)
	if err != nil {
		return nil, err
	}
	return &models.Record{
		ID:             models.ParseRecordID(id),
		Store:          store,
		Data:           data,
		SyncStatus:     models.SyncStatus(status),
		LocalTimestamp: fromNanos(localTS),
		CreatedAt:      fromNanos(createdAt),
		UpdatedAt:      fromNanos(updatedAt),
	}, nil
}

const recordColumns = "id, data, sync_status, local_timestamp, created_at, updated_at"

// GetRecord returns a single record or a NOT_FOUND error
func (s *sqlStore) GetRecord(ctx context.Context, store models.StoreName, id string) (*models.Record, error) {
	if s.db == nil {
		return nil, errNotConnected()
	}
	table, err := tableFor(store)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", recordColumns, table)
	record, err := scanRecord(store, s.db.QueryRowContext(ctx, s.bind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Record not found", id)
		}
		return nil, storageError("Failed to get record", err)
	}
	return record, nil
}

// GetAllRecords returns every record of a store
func (s *sqlStore) GetAllRecords(ctx context.Context, store models.StoreName) ([]*models.Record, error) {
	table, err := tableFor(store)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY local_timestamp ASC", recordColumns, table)
	return s.queryRecords(ctx, store, query)
}

// GetRecordsByStatus returns the records of a store in one sync status
func (s *sqlStore) GetRecordsByStatus(ctx context.Context, store models.StoreName, status models.SyncStatus) ([]*models.Record, error) {
	table, err := tableFor(store)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE sync_status = ? ORDER BY local_timestamp ASC", recordColumns, table)
	return s.queryRecords(ctx, store, query, string(status))
}

func (s *sqlStore) queryRecords(ctx context.Context, store models.StoreName, query string, args ...interface{}) ([]*models.Record, error) {
	if s.db == nil {
		return nil, errNotConnected()
	}
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, storageError("Failed to query records", err)
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		record, err := scanRecord(store, rows)
		if err != nil {
			return nil, storageError("Failed to scan record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("Failed to iterate records", err)
	}
	return records, nil
}

// SetRecordStatus updates only the sync status of a record
func (s *sqlStore) SetRecordStatus(ctx context.Context, store models.StoreName, id string, status models.SyncStatus) error {
	if s.db == nil {
		return errNotConnected()
	}
	return s.setRecordStatus(ctx, s.db, store, id, status)
}

func (s *sqlStore) setRecordStatus(ctx context.Context, q queryer, store models.StoreName, id string, status models.SyncStatus) error {
	table, err := tableFor(store)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET sync_status = ?, updated_at = ? WHERE id = ?", table)
	if _, err := q.ExecContext(ctx, s.bind(query), string(status), toNanos(time.Now()), id); err != nil {
		return storageError("Failed to update record status", err)
	}
	return nil
}

// DeleteRecord removes a record. Deleting a missing record is not an error.
func (s *sqlStore) DeleteRecord(ctx context.Context, store models.StoreName, id string) error {
	if s.db == nil {
		return errNotConnected()
	}
	return s.deleteRecord(ctx, s.db, store, id)
}

func (s *sqlStore) deleteRecord(ctx context.Context, q queryer, store models.StoreName, id string) error {
	table, err := tableFor(store)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)
	if _, err := q.ExecContext(ctx, s.bind(query), id); err != nil {
		return storageError("Failed to delete record", err)
	}
	return nil
}

// SaveRecordAndEnqueue stores the record and its write intent atomically
func (s *sqlStore) SaveRecordAndEnqueue(ctx context.Context, record *models.Record, op models.OperationType, payload map[string]interface{}) (int64, error) {
	var itemID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.saveRecord(ctx, tx, record); err != nil {
			return err
		}
		id, err := s.enqueue(ctx, tx, op, record.Store, record.ID.Value, payload)
		if err != nil {
			return err
		}
		itemID = id
		return nil
	})
	return itemID, err
}

// DeleteRecordAndEnqueue removes the record and queues the remote delete atomically
func (s *sqlStore) DeleteRecordAndEnqueue(ctx context.Context, store models.StoreName, id string) (int64, error) {
	var itemID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteRecord(ctx, tx, store, id); err != nil {
			return err
		}
		qid, err := s.enqueue(ctx, tx, models.OperationDelete, store, id, map[string]interface{}{"id": id})
		if err != nil {
			return err
		}
		itemID = qid
		return nil
	})
	return itemID, err
}

// Enqueue appends a write intent and returns its sequence id
func (s *sqlStore) Enqueue(ctx context.Context, op models.OperationType, store models.StoreName, entityID string, payload map[string]interface{}) (int64, error) {
	if s.db == nil {
		return 0, errNotConnected()
	}
	return s.enqueue(ctx, s.db, op, store, entityID, payload)
}

func (s *sqlStore) enqueue(ctx context.Context, q queryer, op models.OperationType, store models.StoreName, entityID string, payload map[string]interface{}) (int64, error) {
	if _, err := tableFor(store); err != nil {
		return 0, err
	}
	switch op {
	case models.OperationCreate, models.OperationUpdate, models.OperationDelete:
	default:
		return 0, utils.NewAppError(utils.ErrCodeValidation, "Unknown operation type", string(op))
	}

	payloadJSON, err := marshalData(payload)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO sync_queue (type, store_name, entity_id, payload, status, retry_count, enqueued_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		RETURNING id
	`
	var id int64
	err = q.QueryRowContext(ctx, s.bind(query),
		string(op), string(store), entityID, payloadJSON,
		string(models.QueueStatusPending), toNanos(time.Now())).Scan(&id)
	if err != nil {
		return 0, storageError("Failed to enqueue intent", err)
	}
	return id, nil
}

const queueColumns = "id, type, store_name, entity_id, payload, status, retry_count, enqueued_at, last_attempt, next_attempt_at, last_error"

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	var (
		item                      models.QueueItem
		op, store, payload, state string
		timestamp                 int64
		lastAttempt, nextAttempt  sql.NullInt64
		lastError                 sql.NullString
	)
	err := row.Scan(&item.ID, &op, &store, &item.EntityID, &payload, &state,
		&item.RetryCount, &timestamp, &lastAttempt, &nextAttempt, &lastError)
	if err != nil {
		return nil, err
	}
	data, err := unmarshalData(payload)
	if err != nil {
		return nil, err
	}
	item.Type = models.OperationType(op)
	item.StoreName = models.StoreName(store)
	item.Payload = data
	item.Status = models.QueueStatus(state)
	item.Timestamp = fromNanos(timestamp)
	item.LastAttempt = fromNullNanos(lastAttempt)
	item.NextAttemptAt = fromNullNanos(nextAttempt)
	item.LastError = lastError.String
	return &item, nil
}

func (s *sqlStore) queryQueue(ctx context.Context, query string, args ...interface{}) ([]*models.QueueItem, error) {
	if s.db == nil {
		return nil, errNotConnected()
	}
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, storageError("Failed to query sync queue", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, storageError("Failed to scan queue item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("Failed to iterate sync queue", err)
	}
	return items, nil
}

// ListPending returns pending intents in FIFO order
func (s *sqlStore) ListPending(ctx context.Context) ([]*models.QueueItem, error) {
	query := fmt.Sprintf("SELECT %s FROM sync_queue WHERE status = ? ORDER BY id ASC", queueColumns)
	return s.queryQueue(ctx, query, string(models.QueueStatusPending))
}

// ListQueue returns queue items filtered by status. An empty status lists all.
func (s *sqlStore) ListQueue(ctx context.Context, status models.QueueStatus, limit int) ([]*models.QueueItem, error) {
	query := fmt.Sprintf("SELECT %s FROM sync_queue", queueColumns)
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryQueue(ctx, query, args...)
}

// GetQueueItem returns one queue item or a NOT_FOUND error
func (s *sqlStore) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	if s.db == nil {
		return nil, errNotConnected()
	}
	query := fmt.Sprintf("SELECT %s FROM sync_queue WHERE id = ?", queueColumns)
	item, err := scanQueueItem(s.db.QueryRowContext(ctx, s.bind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Queue item not found", strconv.FormatInt(id, 10))
		}
		return nil, storageError("Failed to get queue item", err)
	}
	return item, nil
}

// MarkSuccess flags an intent as confirmed by the remote service
func (s *sqlStore) MarkSuccess(ctx context.Context, id int64) error {
	if s.db == nil {
		return errNotConnected()
	}
	return s.markSuccess(ctx, s.db, id)
}

func (s *sqlStore) markSuccess(ctx context.Context, q queryer, id int64) error {
	query := "UPDATE sync_queue SET status = ?, last_attempt = ?, last_error = '' WHERE id = ?"
	if _, err := q.ExecContext(ctx, s.bind(query), string(models.QueueStatusSuccess), toNanos(time.Now()), id); err != nil {
		return storageError("Failed to mark queue item success", err)
	}
	return nil
}

// MarkError records a failed attempt. The item stays pending.
func (s *sqlStore) MarkError(ctx context.Context, id int64, retryCount int, errMsg string, nextAttemptAt *time.Time) error {
	if s.db == nil {
		return errNotConnected()
	}
	query := `
		UPDATE sync_queue
		SET status = ?, retry_count = ?, last_attempt = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?
	`
	_, err := s.db.ExecContext(ctx, s.bind(query),
		string(models.QueueStatusPending), retryCount, toNanos(time.Now()),
		nullableNanos(nextAttemptAt), errMsg, id)
	if err != nil {
		return storageError("Failed to mark queue item error", err)
	}
	return nil
}

// DeadLetter parks an intent that exhausted its retries and flags its record
func (s *sqlStore) DeadLetter(ctx context.Context, item *models.QueueItem, retryCount int, errMsg string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE sync_queue
			SET status = ?, retry_count = ?, last_attempt = ?, next_attempt_at = NULL, last_error = ?
			WHERE id = ?
		`
		_, err := tx.ExecContext(ctx, s.bind(query),
			string(models.QueueStatusError), retryCount, toNanos(time.Now()), errMsg, item.ID)
		if err != nil {
			return storageError("Failed to dead-letter queue item", err)
		}
		return s.setRecordStatus(ctx, tx, item.StoreName, item.EntityID, models.SyncStatusError)
	})
}

// CompleteQueueItem applies a confirmed remote write in one transaction: the
// item is marked success, a placeholder id is replaced by canonicalID (later
// pending intents follow it), the remote data is stored and the record is
// marked synced once no pending intent references it.
func (s *sqlStore) CompleteQueueItem(ctx context.Context, item *models.QueueItem, canonicalID string, remoteData map[string]interface{}) error {
	table, err := tableFor(item.StoreName)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.markSuccess(ctx, tx, item.ID); err != nil {
			return err
		}
		if item.Type == models.OperationDelete {
			return nil
		}

		targetID := item.EntityID
		if canonicalID != "" && canonicalID != item.EntityID {
			if err := s.remapRecord(ctx, tx, table, item, canonicalID); err != nil {
				return err
			}
			targetID = canonicalID
		}

		pending, err := s.hasPendingIntent(ctx, tx, item.StoreName, targetID)
		if err != nil {
			return err
		}
		if pending {
			return nil
		}

		now := toNanos(time.Now())
		if remoteData != nil {
			dataJSON, err := marshalData(remoteData)
			if err != nil {
				return err
			}
			query := fmt.Sprintf("UPDATE %s SET data = ?, sync_status = ?, updated_at = ? WHERE id = ?", table)
			if _, err := tx.ExecContext(ctx, s.bind(query), dataJSON, string(models.SyncStatusSynced), now, targetID); err != nil {
				return storageError("Failed to store remote record", err)
			}
			return nil
		}
		return s.setRecordStatus(ctx, tx, item.StoreName, targetID, models.SyncStatusSynced)
	})
}

func (s *sqlStore) remapRecord(ctx context.Context, tx *sql.Tx, table string, item *models.QueueItem, canonicalID string) error {
	// A stale copy under the canonical id would collide with the primary key
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND EXISTS (SELECT 1 FROM %s WHERE id = ?)", table, table)
	if _, err := tx.ExecContext(ctx, s.bind(query), canonicalID, item.EntityID); err != nil {
		return storageError("Failed to clear canonical record", err)
	}

	query = fmt.Sprintf("UPDATE %s SET id = ?, updated_at = ? WHERE id = ?", table)
	if _, err := tx.ExecContext(ctx, s.bind(query), canonicalID, toNanos(time.Now()), item.EntityID); err != nil {
		return storageError("Failed to remap record id", err)
	}

	query = "UPDATE sync_queue SET entity_id = ? WHERE store_name = ? AND entity_id = ? AND status <> ?"
	_, err := tx.ExecContext(ctx, s.bind(query), canonicalID, string(item.StoreName), item.EntityID, string(models.QueueStatusSuccess))
	if err != nil {
		return storageError("Failed to remap queued intents", err)
	}

	s.logger.WithFields(logrus.Fields{
		"store":        item.StoreName,
		"local_id":     item.EntityID,
		"canonical_id": canonicalID,
	}).Debug("Remapped placeholder id")
	return nil
}

// PurgeSuccessful deletes confirmed intents. Running it twice is harmless.
func (s *sqlStore) PurgeSuccessful(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, errNotConnected()
	}
	res, err := s.db.ExecContext(ctx, s.bind("DELETE FROM sync_queue WHERE status = ?"), string(models.QueueStatusSuccess))
	if err != nil {
		return 0, storageError("Failed to purge sync queue", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("Failed to read purge result", err)
	}
	return n, nil
}

// CountQueue counts queue items in a status. An empty status counts all.
func (s *sqlStore) CountQueue(ctx context.Context, status models.QueueStatus) (int64, error) {
	if s.db == nil {
		return 0, errNotConnected()
	}
	query := "SELECT COUNT(*) FROM sync_queue"
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, s.bind(query), args...).Scan(&count); err != nil {
		return 0, storageError("Failed to count sync queue", err)
	}
	return count, nil
}

// HasPendingIntent reports whether a pending intent references the record
func (s *sqlStore) HasPendingIntent(ctx context.Context, store models.StoreName, entityID string) (bool, error) {
	if s.db == nil {
		return false, errNotConnected()
	}
	return s.hasPendingIntent(ctx, s.db, store, entityID)
}

func (s *sqlStore) hasPendingIntent(ctx context.Context, q queryer, store models.StoreName, entityID string) (bool, error) {
	query := "SELECT COUNT(*) FROM sync_queue WHERE store_name = ? AND entity_id = ? AND status = ?"
	var count int64
	err := q.QueryRowContext(ctx, s.bind(query), string(store), entityID, string(models.QueueStatusPending)).Scan(&count)
	if err != nil {
		return false, storageError("Failed to check pending intents", err)
	}
	return count > 0, nil
}

// RequeueDead moves dead-lettered intents back to pending with a fresh retry
// budget and returns how many were moved.
func (s *sqlStore) RequeueDead(ctx context.Context) (int64, error) {
	var moved int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, s.bind("SELECT DISTINCT store_name, entity_id FROM sync_queue WHERE status = ?"),
			string(models.QueueStatusError))
		if err != nil {
			return storageError("Failed to list dead intents", err)
		}
		type target struct {
			store models.StoreName
			id    string
		}
		var targets []target
		for rows.Next() {
			var store, id string
			if err := rows.Scan(&store, &id); err != nil {
				rows.Close()
				return storageError("Failed to scan dead intent", err)
			}
			targets = append(targets, target{models.StoreName(store), id})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return storageError("Failed to iterate dead intents", err)
		}

		query := `
			UPDATE sync_queue
			SET status = ?, retry_count = 0, next_attempt_at = NULL, last_error = ''
			WHERE status = ?
		`
		res, err := tx.ExecContext(ctx, s.bind(query), string(models.QueueStatusPending), string(models.QueueStatusError))
		if err != nil {
			return storageError("Failed to requeue dead intents", err)
		}
		if moved, err = res.RowsAffected(); err != nil {
			return storageError("Failed to read requeue result", err)
		}

		for _, t := range targets {
			table, err := tableFor(t.store)
			if err != nil {
				continue
			}
			query := fmt.Sprintf("UPDATE %s SET sync_status = ? WHERE id = ? AND sync_status = ?", table)
			_, err = tx.ExecContext(ctx, s.bind(query), string(models.SyncStatusPending), t.id, string(models.SyncStatusError))
			if err != nil {
				return storageError("Failed to reset record status", err)
			}
		}
		return nil
	})
	return moved, err
}

// GetMetadata reads a metadata value. found is false when the key is unset.
func (s *sqlStore) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	if s.db == nil {
		return "", false, errNotConnected()
	}
	var value string
	err := s.db.QueryRowContext(ctx, s.bind("SELECT value FROM sync_metadata WHERE key = ?"), key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, storageError("Failed to read metadata", err)
	}
	return value, true, nil
}

// SetMetadata upserts a metadata value
func (s *sqlStore) SetMetadata(ctx context.Context, key, value string) error {
	if s.db == nil {
		return errNotConnected()
	}
	query := `
		INSERT INTO sync_metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, s.bind(query), key, value, toNanos(time.Now())); err != nil {
		return storageError("Failed to write metadata", err)
	}
	return nil
}

// GetStorageStats summarizes record and queue counts
func (s *sqlStore) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	if s.db == nil {
		return nil, errNotConnected()
	}
	stats := &StorageStats{
		RecordCounts: make(map[models.StoreName]int64),
		StatusCounts: make(map[models.SyncStatus]int64),
	}

	for _, store := range models.AllStores {
		query := fmt.Sprintf("SELECT sync_status, COUNT(*) FROM %s GROUP BY sync_status", string(store))
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return nil, storageError("Failed to count records", err)
		}
		for rows.Next() {
			var status string
			var count int64
			if err := rows.Scan(&status, &count); err != nil {
				rows.Close()
				return nil, storageError("Failed to scan record count", err)
			}
			stats.RecordCounts[store] += count
			stats.StatusCounts[models.SyncStatus(status)] += count
		}
		rows.Close()
		if _, ok := stats.RecordCounts[store]; !ok {
			stats.RecordCounts[store] = 0
		}
	}

	var err error
	if stats.QueuePending, err = s.CountQueue(ctx, models.QueueStatusPending); err != nil {
		return nil, err
	}
	if stats.QueueSuccess, err = s.CountQueue(ctx, models.QueueStatusSuccess); err != nil {
		return nil, err
	}
	if stats.QueueDead, err = s.CountQueue(ctx, models.QueueStatusError); err != nil {
		return nil, err
	}

	var oldest sql.NullInt64
	err = s.db.QueryRowContext(ctx, s.bind("SELECT MIN(enqueued_at) FROM sync_queue WHERE status = ?"),
		string(models.QueueStatusPending)).Scan(&oldest)
	if err != nil {
		return nil, storageError("Failed to read oldest intent", err)
	}
	stats.OldestIntent = fromNullNanos(oldest)

	return stats, nil
}

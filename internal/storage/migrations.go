package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
	Checksum    string    `db:"checksum"`
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at BIGINT NOT NULL
	)
`

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create entity tables",
			SQL:         entityTablesSQL("TEXT", "INTEGER"),
		},
		{
			Version:     "002",
			Description: "Create sync_queue table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_queue (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					type TEXT NOT NULL,
					store_name TEXT NOT NULL,
					entity_id TEXT NOT NULL,
					payload TEXT NOT NULL, -- JSON
					status TEXT NOT NULL DEFAULT 'pending',
					retry_count INTEGER NOT NULL DEFAULT 0,
					enqueued_at INTEGER NOT NULL,
					last_attempt INTEGER,
					next_attempt_at INTEGER,
					last_error TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
				CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(store_name, entity_id);
			`,
		},
		{
			Version:     "003",
			Description: "Create sync_metadata table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_metadata (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create entity tables",
			SQL:         entityTablesSQL("TEXT", "BIGINT"),
		},
		{
			Version:     "002",
			Description: "Create sync_queue table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_queue (
					id BIGSERIAL PRIMARY KEY,
					type VARCHAR(16) NOT NULL,
					store_name VARCHAR(64) NOT NULL,
					entity_id TEXT NOT NULL,
					payload TEXT NOT NULL,
					status VARCHAR(16) NOT NULL DEFAULT 'pending',
					retry_count INTEGER NOT NULL DEFAULT 0,
					enqueued_at BIGINT NOT NULL,
					last_attempt BIGINT,
					next_attempt_at BIGINT,
					last_error TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
				CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(store_name, entity_id);
			`,
		},
		{
			Version:     "003",
			Description: "Create sync_metadata table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_metadata (
					key VARCHAR(128) PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at BIGINT NOT NULL
				);
			`,
		},
	}
}

// entityTablesSQL builds one table per store, each indexed on sync_status
func entityTablesSQL(textType, intType string) string {
	var sqlText string
	for _, store := range models.AllStores {
		sqlText += fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				id %[2]s PRIMARY KEY,
				data %[2]s NOT NULL,
				sync_status %[2]s NOT NULL DEFAULT 'pending',
				local_timestamp %[3]s NOT NULL,
				created_at %[3]s NOT NULL,
				updated_at %[3]s NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_%[1]s_sync_status ON %[1]s(sync_status);
		`, string(store), textType, intType)
	}
	return sqlText
}

// runMigrations applies every migration not yet recorded in schema_migrations.
// Each migration runs in its own transaction together with its bookkeeping row.
func runMigrations(ctx context.Context, db *sql.DB, bind func(string) string, migrations []*Migration, logger *logrus.Logger) error {
	if db == nil {
		return errNotConnected()
	}
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return storageError("Failed to create schema_migrations table", err)
	}

	applied := make(map[string]string)
	rows, err := db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return storageError("Failed to read applied migrations", err)
	}
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			rows.Close()
			return storageError("Failed to scan applied migration", err)
		}
		applied[version] = checksum
	}
	rows.Close()

	for _, migration := range migrations {
		checksum := utils.Checksum(migration.SQL)
		if existing, ok := applied[migration.Version]; ok {
			if existing != checksum {
				logger.WithFields(logrus.Fields{
					"version":     migration.Version,
					"description": migration.Description,
				}).Warn("Applied migration differs from current definition")
			}
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return storageError("Failed to begin migration", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			_ = tx.Rollback()
			return utils.NewAppError(utils.ErrCodeStorage,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
		now := time.Now()
		_, err = tx.ExecContext(ctx,
			bind("INSERT INTO schema_migrations (version, description, checksum, applied_at) VALUES (?, ?, ?, ?)"),
			migration.Version, migration.Description, checksum, now.UnixNano())
		if err != nil {
			_ = tx.Rollback()
			return storageError("Failed to record migration", err)
		}
		if err := tx.Commit(); err != nil {
			return storageError("Failed to commit migration", err)
		}
		migration.AppliedAt = now
		migration.Checksum = checksum
	}

	return nil
}

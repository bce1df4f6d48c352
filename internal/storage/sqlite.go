// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	sqlStore
	config     *StorageConfig
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		sqlStore: sqlStore{
			logger: utils.GetLogger(),
			bind:   bindQuestion,
		},
		config:     config,
		migrations: GetSQLiteMigrations(),
	}
}

// sqliteDSN adds a busy timeout so pooled connections wait on the write lock
// instead of failing immediately.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)"
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	path := s.config.ConnectionString
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "file:")

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.WrapAppError(utils.ErrCodeStorage, "Failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(s.config.ConnectionString))
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeStorage, "Failed to open SQLite database", err)
	}

	maxConns := s.config.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return utils.WrapAppError(utils.ErrCodeStorage, "Failed to enable WAL mode", err)
	}

	s.db = db
	s.logger.WithField("path", path).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return errNotConnected()
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	s.logger.Info("Starting database migrations")
	if err := runMigrations(context.Background(), s.db, s.bind, s.migrations, s.logger); err != nil {
		return err
	}
	s.logger.WithField("count", len(s.migrations)).Info("Database migrations completed")
	return nil
}

// Vacuum reclaims space left behind by purged queue items
func (s *SQLiteStorage) Vacuum() error {
	if s.db == nil {
		return errNotConnected()
	}
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return utils.WrapAppError(utils.ErrCodeStorage, "Failed to vacuum database", err)
	}
	s.logger.WithFields(logrus.Fields{"path": s.config.ConnectionString}).Debug("Database vacuumed")
	return nil
}

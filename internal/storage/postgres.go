package storage

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	sqlStore
	config     *StorageConfig
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		sqlStore: sqlStore{
			logger: utils.GetLogger(),
			bind:   bindDollar,
		},
		config:     config,
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeStorage, "Failed to open PostgreSQL database", err)
	}

	// Configure connection pool
	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
		db.SetMaxIdleConns(p.config.MaxConnections / 2)
	}
	db.SetConnMaxIdleTime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.WrapAppError(utils.ErrCodeStorage, "Failed to ping PostgreSQL database", err)
	}

	p.db = db
	p.logger.WithFields(logrus.Fields{
		"max_connections": p.config.MaxConnections,
	}).Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return errNotConnected()
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	p.logger.Info("Starting PostgreSQL database migrations")
	if err := runMigrations(context.Background(), p.db, p.bind, p.migrations, p.logger); err != nil {
		return err
	}
	p.logger.Info("PostgreSQL database migrations completed")
	return nil
}

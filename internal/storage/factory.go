// File: internal/storage/factory.go
package storage

import (
	"sort"
	"strings"

	"github.com/smartdevs17/droneops-sync/internal/config"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// storageEngines maps every accepted storage.type to its constructor
var storageEngines = map[string]func(*StorageConfig) Storage{
	"sqlite":     func(c *StorageConfig) Storage { return NewSQLiteStorage(c) },
	"postgres":   func(c *StorageConfig) Storage { return NewPostgreSQLStorage(c) },
	"postgresql": func(c *StorageConfig) Storage { return NewPostgreSQLStorage(c) },
}

// SupportedTypes lists the accepted storage types
func SupportedTypes() []string {
	types := make([]string, 0, len(storageEngines))
	for t := range storageEngines {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// NewStorage validates the configuration and creates the matching engine.
// Nothing is opened until Connect.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateStorageConfig(cfg); err != nil {
		return nil, err
	}

	return storageEngines[strings.ToLower(cfg.Type)](&StorageConfig{
		Type:             cfg.Type,
		ConnectionString: cfg.ConnectionString,
		MaxConnections:   cfg.MaxConnections,
		MaxIdleTime:      cfg.MaxIdleTime,
	}), nil
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(cfg *config.StorageConfig) error {
	if cfg.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage type is required", "")
	}
	if _, ok := storageEngines[strings.ToLower(cfg.Type)]; !ok {
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type",
			cfg.Type+"; supported types: "+strings.Join(SupportedTypes(), ", "))
	}
	if cfg.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", "")
	}
	if cfg.MaxConnections < 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections cannot be negative", "")
	}
	if cfg.MaxIdleTime < 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Max idle time cannot be negative", "")
	}
	return nil
}

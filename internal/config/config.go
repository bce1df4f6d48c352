// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Remote        RemoteConfig       `mapstructure:"remote"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Connectivity  ConnectivityConfig `mapstructure:"connectivity"`
	Sync          SyncConfig         `mapstructure:"sync"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// RemoteConfig describes the authoritative remote service
type RemoteConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	BackupURLs     []string          `mapstructure:"backup_urls"`
	AuthToken      string            `mapstructure:"auth_token"`
	HealthPath     string            `mapstructure:"health_path"`
	StorePaths     map[string]string `mapstructure:"store_paths"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// ConnectivityConfig contains connectivity monitor configuration
type ConnectivityConfig struct {
	ProbeInterval         time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout          time.Duration `mapstructure:"probe_timeout"`
	AssumeSystemOnline    bool          `mapstructure:"assume_system_online"`
	WatchInterfaces       bool          `mapstructure:"watch_interfaces"`
	InterfacePollInterval time.Duration `mapstructure:"interface_poll_interval"`
}

// SyncConfig contains drain pass configuration
type SyncConfig struct {
	RemoteTimeout    time.Duration `mapstructure:"remote_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"` // 0 = unbounded
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `mapstructure:"retry_backoff_max"`
	SyncOnWrite      bool          `mapstructure:"sync_on_write"`
}

// NotificationConfig contains status change fan-out configuration
type NotificationConfig struct {
	WebhookURLs    []string      `mapstructure:"webhook_urls"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json, text
	Output     string `mapstructure:"output"` // stdout, stderr, file
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("DROPSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config, err := unmarshal()
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if remoteURL := os.Getenv("REMOTE_API_URL"); remoteURL != "" {
		config.Remote.BaseURL = remoteURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return config, nil
}

func unmarshal() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Watch re-reads the config file whenever it changes on disk and hands the
// result to onChange. Files that fail to parse are ignored.
func Watch(onChange func(cfg *Config, event fsnotify.Event)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := unmarshal()
		if err != nil {
			return
		}
		onChange(cfg, e)
	})
	viper.WatchConfig()
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "droneops-sync")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Remote service defaults
	viper.SetDefault("remote.base_url", "http://localhost:3001")
	viper.SetDefault("remote.health_path", "/api/health")
	viper.SetDefault("remote.request_timeout", "15s")
	viper.SetDefault("remote.store_paths", map[string]string{
		"flight_logs":         "/api/flight-logs",
		"inspections":         "/api/daily-inspections",
		"maintenance_records": "/api/maintenance-records",
	})

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/droneops.db")
	viper.SetDefault("storage.max_connections", 1)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Connectivity defaults
	viper.SetDefault("connectivity.probe_interval", "30s")
	viper.SetDefault("connectivity.probe_timeout", "5s")
	viper.SetDefault("connectivity.assume_system_online", true)
	viper.SetDefault("connectivity.watch_interfaces", false)
	viper.SetDefault("connectivity.interface_poll_interval", "5s")

	// Sync defaults
	viper.SetDefault("sync.remote_timeout", "15s")
	viper.SetDefault("sync.max_retries", 20)
	viper.SetDefault("sync.retry_backoff_base", "0s")
	viper.SetDefault("sync.retry_backoff_max", "5m")
	viper.SetDefault("sync.sync_on_write", true)

	// Notification defaults
	viper.SetDefault("notifications.webhook_urls", []string{})
	viper.SetDefault("notifications.webhook_timeout", "10s")
	viper.SetDefault("notifications.retry_attempts", 3)
	viper.SetDefault("notifications.retry_delay", "2s")

	// Server defaults
	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote base URL is required")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Connectivity.ProbeInterval <= 0 {
		return fmt.Errorf("connectivity probe interval must be positive")
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		return fmt.Errorf("connectivity probe timeout must be positive")
	}
	if c.Sync.RemoteTimeout <= 0 {
		return fmt.Errorf("sync remote timeout must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync max retries cannot be negative")
	}
	if c.Sync.RetryBackoffBase < 0 || c.Sync.RetryBackoffMax < 0 {
		return fmt.Errorf("sync retry backoff cannot be negative")
	}
	if c.Connectivity.WatchInterfaces && c.Connectivity.InterfacePollInterval <= 0 {
		return fmt.Errorf("interface poll interval must be positive when watching interfaces")
	}
	return nil
}

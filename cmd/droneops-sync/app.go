// File: cmd/droneops-sync/app.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/smartdevs17/droneops-sync/internal/config"
	"github.com/smartdevs17/droneops-sync/internal/connection"
	"github.com/smartdevs17/droneops-sync/internal/logbook"
	"github.com/smartdevs17/droneops-sync/internal/metrics"
	"github.com/smartdevs17/droneops-sync/internal/models"
	"github.com/smartdevs17/droneops-sync/internal/monitor"
	"github.com/smartdevs17/droneops-sync/internal/notification"
	"github.com/smartdevs17/droneops-sync/internal/orchestrator"
	"github.com/smartdevs17/droneops-sync/internal/server"
	"github.com/smartdevs17/droneops-sync/internal/storage"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// Application wires every component of the sync engine
type Application struct {
	config       *config.Config
	logger       *logrus.Logger
	metrics      *metrics.Manager
	storage      storage.Storage
	connection   *connection.ConnectionManager
	tracker      *notification.StatusTracker
	webhooks     *notification.WebhookSubscriber
	orchestrator *orchestrator.Orchestrator
	monitor      *monitor.ConnectivityMonitor
	watcher      *monitor.InterfaceWatcher
	service      *logbook.Service
	server       *server.HTTPServer
	startTime    time.Time
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewApplication creates the application and opens local storage
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config:    cfg,
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	rotation := utils.LogRotation{
		MaxSize:    logCfg.MaxSize,
		MaxBackups: logCfg.MaxBackups,
		MaxAge:     logCfg.MaxAge,
	}
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File, rotation); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.connection = connection.NewConnectionManager(&app.config.Remote)
	app.connection.SetMetricsManager(app.metrics)

	app.tracker = notification.NewStatusTracker(nil)
	app.tracker.SetMetricsManager(app.metrics)

	if len(app.config.Notifications.WebhookURLs) > 0 {
		app.webhooks = notification.NewWebhookSubscriber(&app.config.Notifications)
		app.webhooks.SetMetricsManager(app.metrics)
	}

	app.orchestrator = orchestrator.NewOrchestrator(app.storage, app.connection, app.tracker, &app.config.Sync)
	app.orchestrator.SetMetricsManager(app.metrics)

	app.initializeMonitor()

	app.service = logbook.NewService(app.storage, app.connection, app.tracker, app.orchestrator, &app.config.Sync)

	if app.config.Server.Enabled {
		if err := app.initializeServer(); err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage opens the local store and applies migrations
func (app *Application) initializeStorage() error {
	app.logger.WithField("type", app.config.Storage.Type).Info("Initializing storage layer")

	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return err
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.storage = storage.NewStorageWithMetrics(store, app.metrics)
	return nil
}

// initializeMonitor builds the connectivity monitor and its event sources
func (app *Application) initializeMonitor() {
	connCfg := app.config.Connectivity

	app.monitor = monitor.NewConnectivityMonitor(app.connection, app.tracker, &monitor.MonitorConfig{
		ProbeInterval:      connCfg.ProbeInterval,
		ProbeTimeout:       connCfg.ProbeTimeout,
		AssumeSystemOnline: connCfg.AssumeSystemOnline,
	})
	app.monitor.SetMetricsManager(app.metrics)
	app.monitor.SetSyncTrigger(app.orchestrator.Trigger)
	app.monitor.SetWorkChecker(app.orchestrator)
	app.orchestrator.SetConnectivityChecker(app.monitor)

	if connCfg.WatchInterfaces {
		app.watcher = monitor.NewInterfaceWatcher(connCfg.InterfacePollInterval, func(online bool) {
			app.monitor.HandleSystemEvent(app.ctx, online)
		})
	}
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
		Version:       AppVersion,
	}

	var err error
	app.server, err = server.NewHTTPServer(serverCfg, app.service, app.storage, app.monitor, app.orchestrator, app.metrics)
	return err
}

// Start starts the long-running components
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting DroneOps Sync")

	if app.webhooks != nil {
		app.webhooks.Attach(app.tracker)
	}

	if app.server != nil {
		if err := app.server.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	if err := app.monitor.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start connectivity monitor: %w", err)
	}
	if app.watcher != nil {
		app.watcher.Start()
	}

	if viper.ConfigFileUsed() != "" {
		config.Watch(app.applyConfigChange)
	}

	app.logger.WithFields(logrus.Fields{
		"remote":         app.config.Remote.BaseURL,
		"storage":        app.config.Storage.Type,
		"server_enabled": app.server != nil,
	}).Info("DroneOps Sync started successfully")

	return nil
}

// applyConfigChange applies the settings that can change at runtime
func (app *Application) applyConfigChange(cfg *config.Config, e fsnotify.Event) {
	if cfg.Logging.Level == app.config.Logging.Level {
		return
	}
	if err := utils.SetLevel(cfg.Logging.Level); err != nil {
		app.logger.WithError(err).Warn("Ignoring invalid log level from config change")
		return
	}
	app.logger.WithFields(logrus.Fields{
		"file":  e.Name,
		"level": cfg.Logging.Level,
	}).Info("Log level changed")
	app.config.Logging.Level = cfg.Logging.Level
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping DroneOps Sync")

	if app.watcher != nil {
		app.watcher.Stop()
	}

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.monitor != nil {
		if err := app.monitor.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop connectivity monitor")
		}
	}

	app.cancel()

	if app.service != nil {
		app.service.Close()
	}

	if app.webhooks != nil {
		app.webhooks.Stop()
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	if app.connection != nil {
		app.connection.Close()
	}

	app.logger.Info("DroneOps Sync stopped successfully")
	return nil
}

// SyncOnce probes the remote and, when it answers, drains the queue once
func (app *Application) SyncOnce(ctx context.Context) (*models.SyncResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, app.config.Connectivity.ProbeTimeout)
	err := app.connection.Health(probeCtx)
	cancel()
	if err != nil {
		return nil, err
	}

	app.tracker.Transition(models.StateOffline, models.StateOnline)
	return app.orchestrator.TriggerSync(ctx)
}

// GetStats returns application statistics
func (app *Application) GetStats(ctx context.Context) (map[string]interface{}, error) {
	syncStats, err := app.service.GetSyncStats(ctx)
	if err != nil {
		return nil, err
	}
	lastResult, err := app.orchestrator.LastSyncResult(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"version":        AppVersion,
		"uptime":         time.Since(app.startTime).String(),
		"timestamp":      time.Now(),
		"sync":           syncStats,
		"lastSyncResult": lastResult,
		"connection":     app.connection.Stats(),
		"monitor":        app.monitor.GetStats(),
	}, nil
}

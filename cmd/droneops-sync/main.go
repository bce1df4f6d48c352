// File: cmd/droneops-sync/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/droneops-sync/internal/config"
	"github.com/smartdevs17/droneops-sync/internal/connection"
	"github.com/smartdevs17/droneops-sync/internal/storage"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// rootCmd runs the sync engine when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "droneops-sync",
	Short:   "Offline-first sync engine for drone operations records",
	Long:    `Keeps flight logs, daily inspections and maintenance records usable without connectivity and replays local changes to the remote service once it is reachable.`,
	Version: AppVersion,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync engine and its HTTP API",
	RunE:  runServe,
}

// loadConfig loads and validates configuration, applying command line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runServe is the main command to run the sync engine
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	return app.Stop()
}

// newHeadlessApplication builds the application without the HTTP server or
// interface watcher, for one-shot commands
func newHeadlessApplication() (*Application, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Server.Enabled = false
	cfg.Connectivity.WatchInterfaces = false
	cfg.Notifications.WebhookURLs = nil

	return NewApplication(cfg)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("DroneOps Sync %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Remote: %s\n", cfg.Remote.BaseURL)
		fmt.Printf("Backup remotes: %d\n", len(cfg.Remote.BackupURLs))
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Probe interval: %s\n", cfg.Connectivity.ProbeInterval)
		fmt.Printf("Webhooks: %d\n", len(cfg.Notifications.WebhookURLs))

		return nil
	},
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test remote connectivity and local storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println("Testing DroneOps Sync connectivity...")

		fmt.Printf("Probing remote at %s...\n", cfg.Remote.BaseURL)
		conn := connection.NewConnectionManager(&cfg.Remote)
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Connectivity.ProbeTimeout)
		defer cancel()
		if err := conn.Health(ctx); err != nil {
			return fmt.Errorf("remote is not reachable: %w", err)
		}
		fmt.Println("✓ Remote reachable")

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		if err := store.Ping(); err != nil {
			return fmt.Errorf("storage ping failed: %w", err)
		}
		fmt.Println("✓ Storage connection successful")

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// syncCmd drains the queue once and exits
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay pending local changes to the remote once",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newHeadlessApplication()
		if err != nil {
			return err
		}
		defer app.Stop()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		result, err := app.SyncOnce(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		return printJSON(result)
	},
}

// statsCmd prints local store and queue statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print local record and queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newHeadlessApplication()
		if err != nil {
			return err
		}
		defer app.Stop()

		stats, err := app.GetStats(context.Background())
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}
		return printJSON(stats)
	},
}

// init initializes the CLI commands
func init() {
	// Assigned here rather than in the literal to avoid an initialization
	// cycle (runServe -> loadConfig -> rootCmd).
	rootCmd.RunE = runServe

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	syncCmd.Flags().Duration("timeout", 5*time.Minute, "maximum duration of the pass")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statsCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

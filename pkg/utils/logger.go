package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger *logrus.Logger

// LogRotation configures rotation for file output
type LogRotation struct {
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// InitLogger initializes the global logger
func InitLogger(level, format, output, file string, rotation ...LogRotation) error {
	Logger = logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(logLevel)

	// Set format
	if format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	}

	Logger.SetOutput(outputWriter(output, file, rotation))
	return nil
}

func outputWriter(output, file string, rotation []LogRotation) io.Writer {
	switch {
	case output == "file" && file != "":
		rot := LogRotation{MaxSize: 100, MaxBackups: 3, MaxAge: 28}
		if len(rotation) > 0 {
			rot = rotation[0]
		}
		return &lumberjack.Logger{
			Filename:   file,
			MaxSize:    rot.MaxSize,
			MaxBackups: rot.MaxBackups,
			MaxAge:     rot.MaxAge,
		}
	case output == "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// SetLevel changes the level of the global logger at runtime
func SetLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	GetLogger().SetLevel(logLevel)
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if Logger == nil {
		// Initialize with defaults if not already initialized
		InitLogger("info", "json", "stdout", "")
	}
	return Logger
}

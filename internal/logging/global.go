package logging

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger instance
func InitGlobalLogger(level LogLevel, format string) *Logger {
	if format == "json" {
		globalLogger = NewLogger(level, os.Stdout)
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout}
		globalLogger = NewLogger(level, &output)
	}
	return globalLogger
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(InfoLevel, os.Stdout)
	}
	return globalLogger
}

// Quick logging functions using the global logger

func Debug(msg string) { GetGlobalLogger().Debug(msg) }
func Info(msg string)  { GetGlobalLogger().Info(msg) }
func Warn(msg string)  { GetGlobalLogger().Warn(msg) }
func Error(msg string) { GetGlobalLogger().Error(msg) }

func Debugf(format string, args ...interface{}) { Debug(fmt.Sprintf(format, args...)) }
func Infof(format string, args ...interface{})  { Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...interface{})  { Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...interface{}) { Error(fmt.Sprintf(format, args...)) }

// Fatalf logs a formatted fatal message and exits
func Fatalf(format string, args ...interface{}) {
	GetGlobalLogger().Fatal(fmt.Sprintf(format, args...))
}

// WithModule creates a logger with module field
func WithModule(module string) *zerolog.Logger {
	logger := GetGlobalLogger().logger.With().Str("module", module).Logger()
	return &logger
}

// WithJob creates a logger with job-related fields
func WithJob(queue, jobType string) *zerolog.Logger {
	logger := GetGlobalLogger().logger.With().
		Str("queue", queue).
		Str("job_type", jobType).
		Logger()
	return &logger
}

// WithPlaylist creates a logger with playlist_id field
func WithPlaylist(playlistID int64) *zerolog.Logger {
	logger := GetGlobalLogger().logger.With().Int64("playlist_id", playlistID).Logger()
	return &logger
}

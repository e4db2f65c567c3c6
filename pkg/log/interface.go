// Package log provides the structured logging interface used across loanrisk.
//
// Components never talk to a logging backend directly. They ask the package
// for a named logger and log key/value pairs built from the keys in
// attributes.go:
//
//	logger := log.GetLoggerWithName("preprocessing.Preprocessor")
//	logger.Info("Preprocessor fitted",
//	    log.OperationKey, log.OperationFit,
//	    log.SamplesKey, 800,
//	    log.FeaturesKey, 31,
//	)
//
// The production backend is zerolog (NewZerologProvider); tests use
// TestLogger, which records JSON lines in memory.
package log

import (
	"context"
)

// Logger is a structured logger with slog-like semantics.
type Logger interface {
	// Debug logs a debug-level message with optional key/value fields.
	Debug(msg string, fields ...any)

	// Info logs an info-level message with optional key/value fields.
	Info(msg string, fields ...any)

	// Warn logs a warning-level message with optional key/value fields.
	Warn(msg string, fields ...any)

	// Error logs an error-level message. If the first field is an error it is
	// attached as the "error" field together with its stack trace, and the
	// remaining fields are treated as key/value pairs:
	//
	//	logger.Error("Stage failed", err, log.PhaseKey, "train")
	Error(msg string, fields ...any)

	// With returns a Logger that adds fields to every subsequent message.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits records at level.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider creates loggers and controls their minimum level.
type LoggerProvider interface {
	// GetLogger returns the default logger instance.
	GetLogger() Logger

	// GetLoggerWithName returns a logger tagged with a component name.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum log level for all loggers created by this provider.
	SetLevel(level Level)
}

// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithSink returns logger with a hook forwarding each emitted line's
// level and message to sink. Lines filtered by level never reach it.
func WithSink(logger zerolog.Logger, sink func(level, msg string)) zerolog.Logger {
	if sink == nil {
		return logger
	}
	return logger.Hook(zerolog.HookFunc(func(_ *zerolog.Event, level zerolog.Level, msg string) {
		sink(level.String(), msg)
	}))
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Leader cycle start/settle (key, outcome, waiters)
//   - Downstream outcomes discarded after settle
//   - Compression worker lifecycle
//
// Info: Normal operation events
//   - Engine initialization
//   - Server startup/shutdown
//   - Upstream requests
//
// Warn: Warning conditions that don't prevent operation
//   - Leader cycle timeouts
//   - Queue full rejections
//   - Compression failures (raw body served)
//   - Upstream 4xx/5xx responses
//
// Error: Error conditions requiring attention
//   - Downstream handler panics
//   - Upstream network failures
//   - Configuration errors
//
// Context Fields:
//   - key: Derived cache key
//   - outcome: Leader outcome (success, error, redirect, timeout)
//   - waiters: Number of queued requests served by a fan-out
//   - cached: Whether the outcome populated the cache
//   - duration: Leader or upstream request duration
//   - status_code: HTTP status code
//   - error_class: Upstream error classification (client, server, network)

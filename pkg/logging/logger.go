// Package logging configures zerolog for the orchestrator and hands out
// component loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs per-item dispatch details and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs run lifecycle events and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warnings and errors.
	LevelWarn LogLevel = "warn"

	// LevelError logs errors only.
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

	// Service is attached to every entry as "service" when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Output:  os.Stderr,
		Service: "pixstory",
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// ParseLevel converts a LogLevel to a zerolog.Level. Empty means info.
func ParseLevel(level LogLevel) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a logger tagged with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRun tags a logger with the identifiers of one orchestrated run.
func WithRun(logger zerolog.Logger, runID, pipeline string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Str("pipeline", pipeline).Logger()
}

// Log Level Guidelines:
//
// Debug: per-item detail
//   - rate limiter slot reservations and waits
//   - item dispatch start/finish
//   - cache hit/miss
//
// Info: run lifecycle
//   - run submitted, phase changes, run finished
//   - batch progress
//   - server startup/shutdown
//
// Warn: degraded but running
//   - item failures (the run fails, the process does not)
//   - provider quota running low
//   - cache errors (fall through to the provider)
//
// Error: needs attention
//   - runs failing on synthesis
//   - configuration errors
//   - server failures
//
// Context Fields:
//   - run_id, pipeline: run identity
//   - index, completed, total: batch position
//   - operation: provider operation (caption, novel, illustrate, story, actions)
//   - status_code, error_class: provider failure detail
//   - duration, wait: timings

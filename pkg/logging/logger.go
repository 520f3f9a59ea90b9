// Package logging configures the global zerolog logger for the collector.
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
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `yaml:"level"`

	// Pretty enables human-readable console output instead of JSON lines.
	Pretty bool `yaml:"pretty"`

	// Output defaults to os.Stderr so stdout stays free for command output.
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// ParseLevel converts a level name to zerolog.Level.
func ParseLevel(level LogLevel) (zerolog.Level, error) {
	switch strings.ToLower(string(level)) {
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

// Setup configures the global zerolog logger. Unknown levels fall back to info.
func Setup(cfg Config) zerolog.Logger {
	level, _ := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

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

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: request flow
//   - page requests (cursor, page size)
//   - cache revalidation (ETag, TTL)
//   - rate limit state updates
//
// Info: progress
//   - page persisted (page, records, cursor, next_cursor)
//   - run started and finished (stop_reason, elapsed)
//   - snapshot persisted
//
// Warn: recoverable trouble
//   - retries with backoff
//   - malformed pages retried or skipped
//   - duplicate record IDs within a run
//   - rate limit throttling
//
// Error: the run stopped
//   - fatal client errors, exhausted retries, sink or cursor store failures
//
// Context Fields:
//   - target, provider, endpoint, run_id
//   - cursor, next_cursor, page, records
//   - params: request parameters with credentials redacted
//   - error_class: client, server, rate_limit, network, decode

// Package logx configures the process-wide zerolog logger used across the
// store, runner, cache builder, and CLI.
package logx

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a zerolog logger configured from CODEBATCH_LOG_FORMAT
// ("console" or "json"; default "console" when stderr is a terminal,
// "json" otherwise) and CODEBATCH_LOG_LEVEL (default "info").
func New() zerolog.Logger {
	format := strings.ToLower(os.Getenv("CODEBATCH_LOG_FORMAT"))
	if format == "" {
		format = "json"
		if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			format = "console"
		}
	}

	var logger zerolog.Logger
	if format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
	logger = logger.With().Timestamp().Logger()
	logger = logger.Level(levelFromEnv())
	return logger
}

func levelFromEnv() zerolog.Level {
	lvl := strings.ToLower(os.Getenv("CODEBATCH_LOG_LEVEL"))
	if lvl == "" {
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(lvl)
	if err != nil {
		return zerolog.InfoLevel
	}
	return parsed
}

// Component returns a child logger tagged with the owning component name,
// following the {component, store, batch_id, task_id, shard_id} field
// convention used throughout the substrate.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

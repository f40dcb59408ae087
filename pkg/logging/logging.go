// Package logging provides structured logging for gridlock components.
//
// All output is log/slog JSON on stderr so the daemon composes with
// whatever collects its stream. Components receive a *slog.Logger
// scoped with their component name; per-entity loggers add the entity
// ID so one entity's life can be grepped out of a node's log.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the process logger for the named service. The level comes
// from GRIDLOCK_LOG_LEVEL (debug, info, warn, error; default info).
func New(service string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelFromEnv()})
	return slog.New(h).With("service", service)
}

// Component scopes a logger to one component.
func Component(log *slog.Logger, name string) *slog.Logger {
	return log.With("component", name)
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("GRIDLOCK_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

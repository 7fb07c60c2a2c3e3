// Package logging configures the node's structured logger.
package logging

import (
	"log/slog"
	"os"
)

// New creates a JSON structured logger bound to the given service name.
// Level is read from LOG_LEVEL (DEBUG, INFO, WARN, ERROR); defaults to INFO.
func New(serviceName string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level(os.Getenv("LOG_LEVEL")),
	})
	return slog.New(handler).With(slog.String("service", serviceName))
}

func level(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

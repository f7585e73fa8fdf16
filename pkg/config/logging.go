package config

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the process logger from the logging settings.
func NewLogger(s LoggingSettings, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(s.Level)}
	if s.JSONFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel accepts the usual level names; unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

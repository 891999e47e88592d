// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/ivanvanderbyl/epson-projector/pkg/config"
)

// New builds a logger writing to w. Attributes appended to a context with
// slogctx.Append are added to every record logged with that context.
func New(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var next slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		next = slog.NewJSONHandler(w, opts)
	default:
		next = slog.NewTextHandler(w, opts)
	}

	return slog.New(slogctx.NewHandler(next, nil))
}

// Setup installs a logger from cfg as the slog default
func Setup(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	logger := New(w, cfg)
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

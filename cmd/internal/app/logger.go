package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates a stderr logger. format is "json" or "pretty"; pretty
// output is colorized only on a terminal.
func NewLogger(level, format string) *slog.Logger {
	log := newLoggerTo(os.Stderr, level, format, !color.NoColor)
	slog.SetDefault(log)
	return log
}

func newLoggerTo(w io.Writer, level, format string, colored bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		opts.AddSource = true
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = newPrettyHandler(w, opts, colored)
	}
	return slog.New(h)
}

func parseLogLevel(level string) slog.Level {
	lvl, _ := parseLevel(level)
	return lvl
}

// parseLevel reports false for unknown names, which map to info.
func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

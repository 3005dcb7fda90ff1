// Package logger holds the process-wide structured logger used by the allocators.
//
// Output is discarded until Init is called or the MEMTIER_LOG environment
// variable names a level ("debug", "info", "warn", "error"), in which case
// records go to stderr.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// L is the global logger instance. It's initialized to discard all output by default.
var L *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// EnvVar names the environment variable consulted at startup.
const EnvVar = "MEMTIER_LOG"

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Writer  io.Writer  // Destination. Default: os.Stderr
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	JSON    bool       // Emit JSON records instead of text
}

func init() {
	if lvl, ok := ParseLevel(os.Getenv(EnvVar)); ok {
		Init(Options{Enabled: true, Level: lvl})
	}
}

// Init configures logging. If opts.Enabled is false, all log output is discarded.
func Init(opts Options) {
	if !opts.Enabled {
		L = slog.New(slog.NewTextHandler(io.Discard, nil))
		return
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	level := opts.Level
	if level == 0 {
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		L = slog.New(slog.NewJSONHandler(w, handlerOpts))
		return
	}
	L = slog.New(slog.NewTextHandler(w, handlerOpts))
}

// ParseLevel maps a level name to a slog.Level. Empty or unknown names report false.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "1", "true":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { L.Debug(msg, args...) }

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { L.Info(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { L.Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { L.Error(msg, args...) }

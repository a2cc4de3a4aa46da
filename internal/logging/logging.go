// Package logging wraps log/slog with the daemon's conventions: a
// component tag on every record and a small set of named levels beyond the
// slog defaults, mirroring rclone's fs/log package (which defines its own
// NOTICE/CRITICAL/ALERT/EMERGENCY levels on top of slog).
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Notice sits between Info and Warn; the daemon uses it for lifecycle
// events an operator wants to see by default (scan started, rebuild
// triggered) without full debug verbosity.
const Notice = slog.Level(2)

// Logger is a thin, component-tagged wrapper around *slog.Logger.
type Logger struct {
	base *slog.Logger
}

// New returns a Logger that writes through base, tagged with component.
func New(base *slog.Logger, component string) *Logger {
	return &Logger{base: base.With("component", component)}
}

// NewDefault builds a text-handler Logger writing to stderr at the given
// minimum level; cmd/lesd uses it.
func NewDefault(component string, level slog.Level) *Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return New(slog.New(h), component)
}

func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.base.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.base.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.base.Error(msg, args...) }

func (l *Logger) Notice(msg string, args ...any) {
	l.base.Log(context.Background(), Notice, msg, args...)
}

// With returns a Logger with additional fields attached to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}

// ParseLevel maps the daemon's --log-level flag values to slog.Level.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

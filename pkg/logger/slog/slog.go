// Package slog writes hub records through a log/slog handler.
package slog

import (
	"context"
	"log/slog"
)

// Logger passes records with their key/value pairs to a slog.Handler.
type Logger struct {
	logger *slog.Logger
}

func New(h slog.Handler) *Logger {
	return &Logger{logger: slog.New(h)}
}

// With returns a logger adding args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

// Named returns a logger tagging every record with the component writing it.
func (l *Logger) Named(component string) *Logger {
	return l.With("component", component)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args)
}

func (l *Logger) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, msg, args...)
}

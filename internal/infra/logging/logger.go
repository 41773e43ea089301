// Package logging provides the engine's structured logger: a thin
// wrapper over log/slog with chained .With(k, v...) and
// context-accepting .Debug/.Info/.Warn/.Error(ctx, msg, kv...) methods,
// so call sites are ready for context-scoped fields (request IDs, run
// IDs) without every caller reaching into slog directly.
package logging

import (
	"context"
	"io"
	"log/slog"
)

// Logger wraps *slog.Logger with the calling convention used throughout
// this codebase.
type Logger struct {
	base *slog.Logger
}

// New returns a Logger writing JSON records to w at the given level.
func New(w io.Writer, level slog.Level) *Logger {
	return NewWithHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewWithHandler wraps an arbitrary slog.Handler, letting callers choose
// a text handler for local development or a test handler for assertions.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{base: slog.New(h)}
}

// NewNop returns a Logger that discards everything, for tests that need
// a non-nil Logger but no output.
func NewNop() *Logger {
	return NewWithHandler(slog.NewTextHandler(io.Discard, nil))
}

// With returns a Logger with additional structured fields attached to
// every subsequent record, e.g. logger.With("component", "scheduler").
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{base: l.base.With(kv...)}
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, kv ...any) {
	l.base.DebugContext(ctx, msg, kv...)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, kv ...any) {
	l.base.InfoContext(ctx, msg, kv...)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, kv ...any) {
	l.base.WarnContext(ctx, msg, kv...)
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, kv ...any) {
	l.base.ErrorContext(ctx, msg, kv...)
}

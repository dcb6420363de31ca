package logger

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithLogger returns a new context with the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return defaultLogger
	}
	if value, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return value
	}
	return defaultLogger
}

// WithValues returns a context whose logger carries the given attributes.
// Arguments are slog.Attr values or key-value pairs; a trailing key without
// a value is paired with MISSING_VALUE.
func WithValues(ctx context.Context, keyvals ...any) context.Context {
	if danglingKey(keyvals) {
		keyvals = append(keyvals, "MISSING_VALUE")
	}
	return WithLogger(ctx, FromContext(ctx).With(keyvals...))
}

// danglingKey reports whether the last key in keyvals has no value.
func danglingKey(keyvals []any) bool {
	for i := 0; i < len(keyvals); i++ {
		if _, ok := keyvals[i].(slog.Attr); ok {
			continue
		}
		if i == len(keyvals)-1 {
			return true
		}
		i++
	}
	return false
}

// Debug logs a message with debug level.
func Debug(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Debug(msg, tags...)
}

// Info logs a message with info level.
func Info(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Info(msg, tags...)
}

// Warn logs a message with warn level.
func Warn(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Warn(msg, tags...)
}

// Error logs a message with error level.
func Error(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Error(msg, tags...)
}

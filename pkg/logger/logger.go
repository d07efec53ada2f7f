package logger

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog so call sites depend on one place for handler and
// level selection.
type Logger struct {
	*slog.Logger
}

// New creates a JSON logger at the given level ("debug", "info", "warn",
// "error"); anything else falls back to info.
func New(level string) *Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	return &Logger{Logger: slog.New(handler)}
}

type requestIDKey struct{}

// WithRequestID stores a request ID in the context for later log
// correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID stored in the context, if any.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}

// WithContext returns a logger annotated with the context's request ID.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id, ok := RequestID(ctx); ok {
		return &Logger{Logger: l.With("request_id", id)}
	}
	return l
}

// Package logger configures the process-wide slog logger and carries a
// request ID through context so every log line emitted while serving a
// request can be correlated with it.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type requestIDKey struct{}

var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Setup installs the default slog logger. Unknown levels fall back to info,
// unknown formats to text.
func Setup(level, format string) {
	lvl, ok := levelNames[strings.ToLower(level)]
	if !ok {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

// WithRequestID stores a request ID in the context for FromContext to pick up.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// FromContext returns the default logger, annotated with the request ID if
// one was stored by the request-ID middleware.
func FromContext(ctx context.Context) *slog.Logger {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return slog.Default().With("request_id", id)
	}
	return slog.Default()
}

// Package logger wires process-wide structured logging for the call
// platform: one JSON slog handler on stdout, request-scoped child loggers
// carried through context and gin.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// New returns the process logger. Local and dev environments log at debug
// so signaling and merge activity is visible without extra configuration.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ShutdownFlush is called on graceful shutdown. The JSON handler writes
// straight to stdout, so there is currently nothing to flush.
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }

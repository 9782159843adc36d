// Package logger defines the structured logging contract used across the queue.
package logger

import (
	"context"
)

// Logger is a structured logger. Log methods take a message followed by
// key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger that adds args to every entry.
	With(args ...any) Logger

	// WithContext returns a child logger carrying the job id stored in ctx, if any.
	WithContext(ctx context.Context) Logger
}

type contextKey struct{}

// ContextWithJobID stores a job id for WithContext to pick up.
func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, contextKey{}, jobID)
}

// JobIDFromContext returns the job id stored by ContextWithJobID.
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if jobID, ok := ctx.Value(contextKey{}).(string); ok {
		return jobID
	}
	return ""
}

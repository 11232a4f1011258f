package infrastructure

import (
	"context"

	"github.com/google/uuid"
)

// GenerateTraceID returns a new UUID v4 string.
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores traceID on ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// GetTraceID returns the trace id stored on ctx, or "".
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(TraceIDContextKey).(string)
	return id
}

// EnsureTraceID returns ctx unchanged when it already carries a trace id,
// otherwise a child context with a fresh one. Background work such as
// scheduled runs uses it to get a correlation id.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, GenerateTraceID())
}

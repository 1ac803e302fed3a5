package fetch

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is the type for context keys to avoid collisions
type contextKey string

const (
	requestIDKey contextKey = "request_id"

	// HeaderXRequestID is the default header carrying the request ID
	HeaderXRequestID = "X-Request-ID"
)

// WithRequestID stores the ID sent with every attempt of fetches made with ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID from ctx if present
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// ensureRequestID returns the ID from ctx or one produced by generate.
func ensureRequestID(ctx context.Context, generate func() string) string {
	if id, ok := RequestIDFromContext(ctx); ok {
		return id
	}
	if generate == nil {
		return uuid.NewString()
	}
	return generate()
}

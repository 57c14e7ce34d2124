package logging

import (
	"context"
	"log/slog"
)

// ContextKey is a type for context keys used in logging.
type ContextKey string

const (
	// CorrelationIDKey is the context key for the correlation ID that ties
	// a request to the events and webhook deliveries it produces.
	CorrelationIDKey ContextKey = "log_correlation_id"
	// KeyIDKey is the context key for the authenticated API key ID.
	KeyIDKey ContextKey = "log_key_id"
)

// WithCorrelationID adds a correlation ID to the context for logging and
// event attribution.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// WithKeyID adds the authenticated API key ID to the context for logging.
func WithKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, KeyIDKey, keyID)
}

// GetCorrelationID extracts the correlation ID from context.
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(CorrelationIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetKeyID extracts the API key ID from context.
func GetKeyID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(KeyIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FromContext returns a logger with correlation and key IDs from context
// added as attributes.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}

	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		logger = logger.With("correlation_id", correlationID)
	}
	if keyID := GetKeyID(ctx); keyID != "" {
		logger = logger.With("key_id", keyID)
	}

	return logger
}

package logger

import (
	"context"
)

// ContextKey is used for context values
type ContextKey string

const (
	// QueryIDKey is the context key for the per-call query ID
	QueryIDKey ContextKey = "query_id"
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"
	// TenantKey is the context key for the tenant owning an engine instance
	TenantKey ContextKey = "tenant"
)

// WithContextValue adds a value to the context for logging
func WithContextValue(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

// QueryID returns the query ID stored in ctx, or "".
func QueryID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(QueryIDKey).(string)
	return id
}

// ExtractContextValues extracts logging-relevant values from context
func ExtractContextValues(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	var args []any

	if queryID, ok := ctx.Value(QueryIDKey).(string); ok {
		args = append(args, "query_id", queryID)
	}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		args = append(args, "request_id", requestID)
	}

	if tenant, ok := ctx.Value(TenantKey).(string); ok {
		args = append(args, "tenant", tenant)
	}

	return args
}

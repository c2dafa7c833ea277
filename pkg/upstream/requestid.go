package upstream

import "context"

// RequestIDHeader carries the gateway-assigned request identifier to backends.
const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDContextKey contextKey = "requestID"

// ContextWithRequestID stores a request identifier for propagation upstream.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// RequestIDFromContext extracts the request identifier, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDContextKey).(string)
	return id, ok && id != ""
}

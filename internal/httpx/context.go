package httpx

import (
	"context"
	"net/http"
)

type contextKey string

const (
	requestIDKey     contextKey = "requestID"
	callbackBatchKey contextKey = "callbackBatch"
)

// RequestIDFrom retrieves the request ID from the request context.
func RequestIDFrom(r *http.Request) string {
	if v, ok := r.Context().Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithRequestID returns a new context carrying the request ID.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithCallbackBatch marks a request as authenticated by a callback
// token scoped to batchID.
func ContextWithCallbackBatch(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, callbackBatchKey, batchID)
}

// CallbackBatchFrom returns the batch scope of a token-authenticated
// request. ok is false for requests that used the shared secret.
func CallbackBatchFrom(r *http.Request) (batchID string, ok bool) {
	batchID, ok = r.Context().Value(callbackBatchKey).(string)
	return batchID, ok
}

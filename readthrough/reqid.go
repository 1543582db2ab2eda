package readthrough

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// withRequestID tags ctx with a fresh request id for a single load, mirrored
// on O-tero-Distributed-Caching-System's pkg/pubsub request/correlation id
// fields (InvalidationEvent.RequestID). The id is threaded through to the
// DataSource call and included in any error log so a slow or failing
// backing call can be correlated with the load that triggered it.
func withRequestID(ctx context.Context) (context.Context, uuid.UUID) {
	id := uuid.New()
	return context.WithValue(ctx, requestIDKey{}, id), id
}

// RequestIDFromContext returns the request id genstore attached to ctx for
// the in-flight load, if any. DataSource implementations may use this for
// their own tracing/logging.
func RequestIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(requestIDKey{}).(uuid.UUID)
	return id, ok
}

package readthrough

import (
	"context"

	"github.com/IvanBrykalov/genstore"
)

// DataSource is the pluggable backing collaborator a Cache calls on a miss
// (spec.md §6). It is intentionally out of this module's core scope — a
// database, a remote service, or another cache — but its contract is part
// of the spec: Get/GetBatch take a context.Context so a single
// implementation serves both the synchronous and asynchronous call sites of
// Cache (spec.md §9 "one internal algorithm, parameterized over call source
// and await result").
type DataSource[K comparable, V any] interface {
	// Get fetches k, returning genstore.None[V]() (not an error) when the
	// source has no value for k.
	Get(ctx context.Context, k K) (genstore.Optional[V], error)

	// GetBatch fetches keys, returning a result slice aligned to keys by
	// index and length (spec.md §8 invariant 8). A per-key miss is
	// genstore.None[V](); err is reserved for whole-call failures (the
	// source being unreachable), not per-key absence.
	GetBatch(ctx context.Context, keys []K) ([]genstore.Optional[V], error)
}

// InvalidationSource is an optional DataSource capability: a source that
// can tell subscribed caches a key it previously served has changed
// upstream (spec.md §6 "emits invalidated(k) to subscribed caches"). A
// Cache built over a DataSource implementing this interface forwards every
// source invalidation into a local Invalidate, which re-emits the cache's
// own Invalidated event (spec.md §4.2).
type InvalidationSource[K comparable] interface {
	OnInvalidated(fn func(k K))
}

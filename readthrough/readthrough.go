// Package readthrough wraps genstore.GenerationalStore with a DataSource
// for load-on-miss semantics, memoizing both present and absent results
// (negative caching), as specified in spec.md §4.2. It generalizes the
// teacher's cache.Cache.GetOrLoad (cache/cache.go), which coalesces loads
// with a singleflight group but has no generational eviction or negative
// caching of its own.
package readthrough

import (
	"context"

	"github.com/IvanBrykalov/genstore"
	"github.com/IvanBrykalov/genstore/internal/flight"
	"go.uber.org/zap"
)

// Config configures a Cache's ambient behavior. The zero value is valid —
// Logger defaults to zap.NewNop(), matching genstore.Config's convention.
type Config struct {
	Logger *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// AsyncResult is delivered on GetAsync's channel.
type AsyncResult[V any] struct {
	Value genstore.Optional[V]
	Err   error
}

// AsyncBatchResult is delivered on GetBatchAsync's channel.
type AsyncBatchResult[V any] struct {
	Values []genstore.Optional[V]
	Err    error
}

// Cache is the read-through generational cache of spec.md §4.2: a
// GenerationalStore fronted by a DataSource, with single-flighted loads so
// concurrent misses for the same key never call the source twice.
type Cache[K comparable, V any] struct {
	store  *genstore.GenerationalStore[K, V]
	source DataSource[K, V]
	sf     flight.Group[K, genstore.Optional[V]]
	cfg    Config
}

// New builds a Cache over an already-constructed store and a DataSource. If
// source implements InvalidationSource, its invalidations are forwarded
// into store.Invalidate for the lifetime of the Cache.
func New[K comparable, V any](store *genstore.GenerationalStore[K, V], source DataSource[K, V], cfg Config) *Cache[K, V] {
	c := &Cache[K, V]{store: store, source: source, cfg: cfg}
	c.sf.Logger = cfg.logger()
	if inv, ok := source.(InvalidationSource[K]); ok {
		inv.OnInvalidated(func(k K) { c.store.Invalidate(k) })
	}
	return c
}

// Get implements the single-key load pattern of spec.md §4.2:
//  1. under the store's lock, snapshot the version and probe Gen0 then
//     Gen1 (promoting on a Gen1 hit); a hit of either kind returns
//     immediately.
//  2. on a miss, release the lock and single-flight a call to
//     source.Get(k) — multiple concurrent misses for k share one call.
//  3. reacquire the lock via ReconcileInsert: if another goroutine raced
//     and inserted first, its value wins; otherwise the loaded value
//     (present or explicitly absent) is inserted and returned.
func (c *Cache[K, V]) Get(ctx context.Context, k K) (genstore.Optional[V], error) {
	version := c.store.Version()
	if v, found := c.store.Get(k); found {
		return v, nil
	}

	loaded, err := c.loadOne(ctx, k)
	if err != nil {
		return genstore.Optional[V]{}, err
	}
	return c.store.ReconcileInsert(k, loaded, version), nil
}

// GetAsync runs Get on a separate goroutine and delivers the result on the
// returned channel, reusing Get's algorithm rather than a divergent async
// path (spec.md §9).
func (c *Cache[K, V]) GetAsync(ctx context.Context, k K) <-chan AsyncResult[V] {
	out := make(chan AsyncResult[V], 1)
	go func() {
		v, err := c.Get(ctx, k)
		out <- AsyncResult[V]{Value: v, Err: err}
		close(out)
	}()
	return out
}

// GetBatch implements spec.md §4.2's three-phase batch load:
//
//	Phase 1 — ProbeMany probes every key under one lock acquisition and
//	snapshots the version alongside the probe.
//	Phase 2 — outside any lock, the missed keys are loaded via a single
//	single-flighted source.GetBatch call.
//	Phase 3 — each loaded value that is present is reconciled into Gen0
//	(adopting a racing insert if the version moved); loaded absences are
//	NOT cached in the batch path and are returned as genstore.None[V]()
//	(this asymmetry with Get's negative caching is spec.md §4.2's stated
//	behavior, not an omission).
//
// Results are aligned to keys by index and length regardless of hits,
// misses, or load outcome (spec.md §8 invariant 8).
func (c *Cache[K, V]) GetBatch(ctx context.Context, keys []K) ([]genstore.Optional[V], error) {
	results, missing, version := c.store.ProbeMany(keys)
	if len(missing) == 0 {
		return results, nil
	}

	missingKeys := make([]K, len(missing))
	for i, idx := range missing {
		missingKeys[i] = keys[idx]
	}

	loaded, err := c.loadBatch(ctx, missingKeys)
	if err != nil {
		return nil, err
	}

	for i, idx := range missing {
		if opt := loaded[i]; opt.Valid {
			results[idx] = c.store.ReconcileInsert(keys[idx], opt, version)
		}
	}
	return results, nil
}

// GetBatchAsync runs GetBatch on a separate goroutine and delivers the
// result on the returned channel.
func (c *Cache[K, V]) GetBatchAsync(ctx context.Context, keys []K) <-chan AsyncBatchResult[V] {
	out := make(chan AsyncBatchResult[V], 1)
	go func() {
		v, err := c.GetBatch(ctx, keys)
		out <- AsyncBatchResult[V]{Values: v, Err: err}
		close(out)
	}()
	return out
}

// Invalidate, InvalidateMany, Clear, Count, OnInvalidated, OnEvicted, and
// Close delegate to the underlying store; Cache adds no state of its own
// beyond the single-flight group and the DataSource reference.
func (c *Cache[K, V]) Invalidate(k K) bool            { return c.store.Invalidate(k) }
func (c *Cache[K, V]) InvalidateMany(keys []K) int    { return c.store.InvalidateMany(keys) }
func (c *Cache[K, V]) Clear()                         { c.store.Clear() }
func (c *Cache[K, V]) Count() int                     { return c.store.Len() }
func (c *Cache[K, V]) Close() error                   { return c.store.Close() }

func (c *Cache[K, V]) OnInvalidated(fn genstore.InvalidatedFunc[K])    { c.store.OnInvalidated(fn) }
func (c *Cache[K, V]) OnEvicted(fn genstore.EvictedFunc[K, V])         { c.store.OnEvicted(fn) }

func (c *Cache[K, V]) loadOne(ctx context.Context, k K) (genstore.Optional[V], error) {
	loadCtx, reqID := withRequestID(ctx)
	return c.sf.Do(loadCtx, k, func() (genstore.Optional[V], error) {
		v, err := c.source.Get(loadCtx, k)
		if err != nil {
			c.cfg.logger().Warn("readthrough: source.Get failed",
				zap.String("request_id", reqID.String()), zap.Error(err))
			return genstore.Optional[V]{}, err
		}
		return v, nil
	})
}

func (c *Cache[K, V]) loadBatch(ctx context.Context, keys []K) ([]genstore.Optional[V], error) {
	loadCtx, reqID := withRequestID(ctx)
	return c.sf.GetBatch(loadCtx, keys, func(owned []K) ([]genstore.Optional[V], error) {
		v, err := c.source.GetBatch(loadCtx, owned)
		if err != nil {
			c.cfg.logger().Warn("readthrough: source.GetBatch failed",
				zap.String("request_id", reqID.String()), zap.Error(err))
			return nil, err
		}
		return v, nil
	})
}

// Package partitioned hash-partitions a set of independent read-through
// caches across N shards to scale the single-lock GenerationalStore across
// cores, as specified by spec.md §2's third core component. It is grounded
// on the teacher's cache/shard.go sharding scheme (FNV hash, power-of-two
// bitmask partition index) generalized from an intrusive LRU shard array to
// an array of independent readthrough.Cache instances.
package partitioned

import (
	"context"
	"fmt"
	"sync"

	"github.com/IvanBrykalov/genstore"
	"github.com/IvanBrykalov/genstore/internal/util"
	"github.com/IvanBrykalov/genstore/readthrough"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config configures a Cache. Partitions defaults to
// util.ReasonablePartitionCount() when left at 0. PerPartition configures
// each partition's underlying GenerationalStore; Gen0Limit there is a
// per-partition budget, not a global one.
type Config struct {
	Partitions   int
	PerPartition genstore.Config
	ReadThrough  readthrough.Config
	Logger       *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func (c Config) partitions() int {
	if c.Partitions > 0 {
		return c.Partitions
	}
	return util.ReasonablePartitionCount()
}

// Cache hash-partitions K across an array of independent readthrough.Cache
// instances, each with its own lock, generations, and single-flight group.
// A key is pinned to exactly one partition for the lifetime of the Cache
// (util.PartitionIndex is a pure function of hash and partition count), so
// per-partition state never needs to migrate.
type Cache[K comparable, V any] struct {
	partitions []*readthrough.Cache[K, V]
	stores     []*genstore.GenerationalStore[K, V]
	hits       []util.PaddedAtomicInt64
	misses     []util.PaddedAtomicInt64
	cfg        Config

	invalidatedListenersMu sync.RWMutex
	invalidatedListeners   []genstore.InvalidatedFunc[K]
	evictedListenersMu     sync.RWMutex
	evictedListeners       []genstore.EvictedFunc[K, V]
}

// SourceFactory builds the DataSource backing partition i. Most callers
// share a single stateless DataSource across all partitions (return the
// same value for every i); a factory is offered for sources that need
// per-partition resources (e.g. a connection-pool shard per partition).
type SourceFactory[K comparable, V any] func(partition int) readthrough.DataSource[K, V]

// New builds a Cache with cfg.partitions() independent stores, each wrapped
// in a readthrough.Cache over the DataSource produced by factory.
func New[K comparable, V any](factory SourceFactory[K, V], cfg Config) (*Cache[K, V], error) {
	n := cfg.partitions()
	if n < 1 {
		return nil, fmt.Errorf("partitioned: partitions must be >= 1, got %d", n)
	}

	c := &Cache[K, V]{
		partitions: make([]*readthrough.Cache[K, V], n),
		stores:     make([]*genstore.GenerationalStore[K, V], n),
		hits:       make([]util.PaddedAtomicInt64, n),
		misses:     make([]util.PaddedAtomicInt64, n),
		cfg:        cfg,
	}

	perPartitionRT := cfg.ReadThrough
	if perPartitionRT.Logger == nil {
		perPartitionRT.Logger = cfg.logger()
	}

	for i := 0; i < n; i++ {
		store, err := genstore.New[K, V](cfg.PerPartition)
		if err != nil {
			for j := 0; j < i; j++ {
				_ = c.stores[j].Close()
			}
			return nil, fmt.Errorf("partitioned: partition %d: %w", i, err)
		}
		idx := i
		store.OnInvalidated(func(k K) { c.dispatchInvalidated(k) })
		store.OnEvicted(func(dropped map[K]genstore.Optional[V]) { c.dispatchEvicted(dropped) })

		c.stores[i] = store
		c.partitions[i] = readthrough.New[K, V](store, factory(idx), perPartitionRT)
		cfg.logger().Debug("partitioned: partition opened", zap.Int("partition", idx), zap.Int("partitions", n))
	}
	return c, nil
}

func (c *Cache[K, V]) partitionFor(k K) int {
	return util.PartitionIndex(util.Fnv64a(k), len(c.partitions))
}

// Get routes k to its owning partition and delegates to its
// readthrough.Cache.Get.
func (c *Cache[K, V]) Get(ctx context.Context, k K) (genstore.Optional[V], error) {
	idx := c.partitionFor(k)
	v, err := c.partitions[idx].Get(ctx, k)
	if err != nil {
		c.misses[idx].Add(1)
		return v, err
	}
	if v.Valid {
		c.hits[idx].Add(1)
	} else {
		c.misses[idx].Add(1)
	}
	return v, nil
}

// GetBatch groups keys by owning partition, issues one GetBatch call per
// partition touched, and reassembles results in the caller's original
// order. Partition calls run concurrently via an errgroup so a batch that
// spans every partition does not pay their latencies sequentially.
func (c *Cache[K, V]) GetBatch(ctx context.Context, keys []K) ([]genstore.Optional[V], error) {
	byPartition := make(map[int][]int, len(c.partitions))
	for i, k := range keys {
		idx := c.partitionFor(k)
		byPartition[idx] = append(byPartition[idx], i)
	}

	results := make([]genstore.Optional[V], len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for idx, positions := range byPartition {
		idx, positions := idx, positions
		g.Go(func() error {
			partitionKeys := make([]K, len(positions))
			for j, p := range positions {
				partitionKeys[j] = keys[p]
			}
			out, err := c.partitions[idx].GetBatch(gctx, partitionKeys)
			if err != nil {
				c.cfg.logger().Warn("partitioned: partition batch load failed", zap.Int("partition", idx), zap.Error(err))
				return fmt.Errorf("partitioned: partition %d: %w", idx, err)
			}
			var partitionHits, partitionMisses int64
			for j, p := range positions {
				results[p] = out[j]
				if out[j].Valid {
					partitionHits++
				} else {
					partitionMisses++
				}
			}
			c.hits[idx].Add(partitionHits)
			c.misses[idx].Add(partitionMisses)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Invalidate routes k to its owning partition.
func (c *Cache[K, V]) Invalidate(k K) bool {
	return c.partitions[c.partitionFor(k)].Invalidate(k)
}

// InvalidateMany groups keys by partition and invalidates each group in one
// call to that partition's store.
func (c *Cache[K, V]) InvalidateMany(keys []K) int {
	byPartition := make(map[int][]K, len(c.partitions))
	for _, k := range keys {
		idx := c.partitionFor(k)
		byPartition[idx] = append(byPartition[idx], k)
	}
	var total int
	for idx, ks := range byPartition {
		total += c.partitions[idx].InvalidateMany(ks)
	}
	return total
}

// Clear empties every partition.
func (c *Cache[K, V]) Clear() {
	for _, p := range c.partitions {
		p.Clear()
	}
}

// Count sums the resident entry count across all partitions.
func (c *Cache[K, V]) Count() int {
	var total int
	for _, p := range c.partitions {
		total += p.Count()
	}
	return total
}

// Close closes every partition's store, returning the first error
// encountered (if any) after attempting all of them.
func (c *Cache[K, V]) Close() error {
	var first error
	for idx, p := range c.partitions {
		if err := p.Close(); err != nil {
			c.cfg.logger().Warn("partitioned: partition close failed", zap.Int("partition", idx), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	c.cfg.logger().Debug("partitioned: closed", zap.Int("partitions", len(c.partitions)))
	return first
}

// PartitionStats reports one partition's hit/miss counters. Hits counts
// Get/GetBatch results that were present; Misses counts results that were
// absent plus failed Get calls. A present value loaded from the DataSource
// on a cache miss is counted as a hit.
type PartitionStats struct {
	Partition int
	Hits      int64
	Misses    int64
}

// Stats returns a point-in-time snapshot of each partition's hit/miss
// counters, useful for spotting an imbalanced hash distribution.
func (c *Cache[K, V]) Stats() []PartitionStats {
	out := make([]PartitionStats, len(c.partitions))
	for i := range c.partitions {
		out[i] = PartitionStats{
			Partition: i,
			Hits:      c.hits[i].Load(),
			Misses:    c.misses[i].Load(),
		}
	}
	return out
}

// OnInvalidated subscribes to Invalidated events fanned in from every
// partition's store.
func (c *Cache[K, V]) OnInvalidated(fn genstore.InvalidatedFunc[K]) {
	c.invalidatedListenersMu.Lock()
	defer c.invalidatedListenersMu.Unlock()
	c.invalidatedListeners = append(c.invalidatedListeners, fn)
}

// OnEvicted subscribes to Evicted events fanned in from every partition's
// store. Each event still carries only that partition's dropped entries —
// events are never merged across partitions.
func (c *Cache[K, V]) OnEvicted(fn genstore.EvictedFunc[K, V]) {
	c.evictedListenersMu.Lock()
	defer c.evictedListenersMu.Unlock()
	c.evictedListeners = append(c.evictedListeners, fn)
}

func (c *Cache[K, V]) dispatchInvalidated(k K) {
	c.invalidatedListenersMu.RLock()
	listeners := append([]genstore.InvalidatedFunc[K]{}, c.invalidatedListeners...)
	c.invalidatedListenersMu.RUnlock()
	for _, fn := range listeners {
		fn(k)
	}
}

func (c *Cache[K, V]) dispatchEvicted(dropped map[K]genstore.Optional[V]) {
	if len(dropped) == 0 {
		return
	}
	c.evictedListenersMu.RLock()
	listeners := append([]genstore.EvictedFunc[K, V]{}, c.evictedListeners...)
	c.evictedListenersMu.RUnlock()
	for _, fn := range listeners {
		fn(dropped)
	}
}

package genstore

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// GenerationalStore is the two-generation storage primitive described in
// spec.md §4.1: insertion, lookup with Gen1→Gen0 promotion, size- and
// time-triggered collection, explicit invalidation, and eviction
// notification. It is not read-through by itself — see package readthrough
// for the DataSource-backed variant.
//
// All operations serialize on a single mutex guarding both generations, the
// version counter, and the last-collection timestamp, mirroring the
// teacher's single-shard-lock design (cache/shard.go) generalized to two
// generations instead of one ordered list.
type GenerationalStore[K comparable, V any] struct {
	mu             sync.Mutex
	gen0           map[K]Optional[V]
	gen1           map[K]Optional[V]
	version        uint64
	lastCollection time.Time

	cfg Config

	listenersMu          sync.RWMutex
	invalidatedListeners []InvalidatedFunc[K]
	evictedListeners     []EvictedFunc[K, V]

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a GenerationalStore. It returns a configuration error
// (never panics) if cfg is invalid — see Config for the validated fields.
// If cfg.TimeToLive is set, a background collector goroutine is started;
// call Close to stop it.
func New[K comparable, V any](cfg Config) (*GenerationalStore[K, V], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &GenerationalStore[K, V]{
		gen0:           make(map[K]Optional[V]),
		gen1:           make(map[K]Optional[V]),
		cfg:            cfg,
		lastCollection: cfg.clock().Now(),
	}

	if cfg.TimeToLive > 0 {
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.runCollector(cfg.TimeToLive)
	}
	return s, nil
}

// Get returns the cached Optional[V] for k and whether k is known to the
// store at all. A Gen1 hit promotes the entry into Gen0 before returning
// (spec.md §4.1); a Gen0 hit leaves the entry unchanged.
func (s *GenerationalStore[K, V]) Get(k K) (Optional[V], bool) {
	s.mu.Lock()
	if v, ok := s.gen0[k]; ok {
		s.mu.Unlock()
		s.cfg.metrics().Hit()
		return v, true
	}
	if v, ok := s.gen1[k]; ok {
		delete(s.gen1, k)
		s.gen0[k] = v
		s.bumpVersionLocked()
		s.mu.Unlock()
		s.cfg.metrics().Promote()
		s.cfg.metrics().Hit()
		return v, true
	}
	s.mu.Unlock()
	s.cfg.metrics().Miss()
	return Optional[V]{}, false
}

// Set upserts v as a present value for k. Equivalent to
// SetOptional(k, Some(v)).
func (s *GenerationalStore[K, V]) Set(k K, v V) {
	s.SetOptional(k, Some(v))
}

// SetOptional upserts an Optional for k — present or explicitly absent
// (negative caching). It removes any Gen1 copy of k first, and may trigger
// a size-based collection before inserting, keeping |Gen0| < Gen0Limit
// after insert (spec.md §8 invariant 3).
func (s *GenerationalStore[K, V]) SetOptional(k K, v Optional[V]) {
	s.mu.Lock()
	delete(s.gen1, k)

	var dropped map[K]Optional[V]
	if _, exists := s.gen0[k]; !exists && s.gen0AtLimitLocked() {
		dropped = s.collectLocked(CollectSize)
	}
	s.gen0[k] = v
	s.bumpVersionLocked()
	s.mu.Unlock()

	s.dispatchEvicted(dropped)
}

// ReconcileInsert is the second half of the read-through load pattern
// (spec.md §4.2, §9): after releasing the lock to call a backing source,
// the caller reacquires via this method. If the store's version is still
// expectedVersion, v is inserted as the new Gen0 entry for k (possibly
// triggering a collection) and returned. If the version changed — another
// goroutine raced — the current entry for k is returned instead (promoting
// it from Gen1 if necessary) without overwriting it; if no racing entry is
// found, v is inserted anyway.
func (s *GenerationalStore[K, V]) ReconcileInsert(k K, v Optional[V], expectedVersion uint64) Optional[V] {
	s.mu.Lock()
	if s.version != expectedVersion {
		if cur, ok := s.gen0[k]; ok {
			s.mu.Unlock()
			return cur
		}
		if cur, ok := s.gen1[k]; ok {
			delete(s.gen1, k)
			s.gen0[k] = cur
			s.bumpVersionLocked()
			s.mu.Unlock()
			s.cfg.metrics().Promote()
			return cur
		}
		// Raced, but nothing is cached for k yet (e.g. a concurrent
		// Invalidate or a pure collection) — fall through and insert.
	}

	var dropped map[K]Optional[V]
	if _, exists := s.gen0[k]; !exists && s.gen0AtLimitLocked() {
		dropped = s.collectLocked(CollectSize)
	}
	s.gen0[k] = v
	s.bumpVersionLocked()
	s.mu.Unlock()

	s.dispatchEvicted(dropped)
	return v
}

// ProbeMany probes every key under a single lock acquisition, promoting
// Gen1 hits into Gen0 exactly like Get. It returns a results slice aligned
// to keys by index, the indices of keys that missed both generations, and
// the store version snapshotted atomically with the probe — this is phase 1
// of readthrough.Cache.GetBatch's lock→probe→unlock→load→lock→reconcile
// pattern (spec.md §4.2).
func (s *GenerationalStore[K, V]) ProbeMany(keys []K) (results []Optional[V], missing []int, version uint64) {
	results = make([]Optional[V], len(keys))
	s.mu.Lock()
	var promotedAny bool
	for i, k := range keys {
		if v, ok := s.gen0[k]; ok {
			results[i] = v
			continue
		}
		if v, ok := s.gen1[k]; ok {
			delete(s.gen1, k)
			s.gen0[k] = v
			results[i] = v
			promotedAny = true
			continue
		}
		missing = append(missing, i)
	}
	if promotedAny {
		s.bumpVersionLocked()
	}
	version = s.version
	s.mu.Unlock()

	if promotedAny {
		s.cfg.metrics().Promote()
	}
	return results, missing, version
}

// Version returns the store's current mutation counter, used by
// readthrough.Cache to detect races between releasing and reacquiring the
// lock around a source call.
func (s *GenerationalStore[K, V]) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Invalidate removes k from whichever generation holds it. Returns true iff
// something was removed, in which case Invalidated(k) fires exactly once.
// Invalidating an absent key is a no-op and emits nothing (spec.md §4.5).
func (s *GenerationalStore[K, V]) Invalidate(k K) bool {
	s.mu.Lock()
	removed := s.removeLocked(k)
	if removed {
		s.bumpVersionLocked()
	}
	s.mu.Unlock()

	if removed {
		s.dispatchInvalidated(k)
	}
	return removed
}

// InvalidateMany applies Invalidate to every key under a single acquisition
// of the store's lock, returning the number actually removed. One
// Invalidated event fires per removed key (spec.md §4.1 — batched delivery
// was considered and rejected, see DESIGN.md).
func (s *GenerationalStore[K, V]) InvalidateMany(keys []K) int {
	s.mu.Lock()
	removedKeys := make([]K, 0, len(keys))
	for _, k := range keys {
		if s.removeLocked(k) {
			removedKeys = append(removedKeys, k)
		}
	}
	if len(removedKeys) > 0 {
		s.bumpVersionLocked()
	}
	s.mu.Unlock()

	for _, k := range removedKeys {
		s.dispatchInvalidated(k)
	}
	return len(removedKeys)
}

// Clear empties both generations, emitting a single Evicted event with the
// union of their contents (no Invalidated events fire).
func (s *GenerationalStore[K, V]) Clear() {
	s.mu.Lock()
	dropped := make(map[K]Optional[V], len(s.gen0)+len(s.gen1))
	for k, v := range s.gen0 {
		dropped[k] = v
	}
	for k, v := range s.gen1 {
		dropped[k] = v
	}
	s.gen0 = make(map[K]Optional[V])
	s.gen1 = make(map[K]Optional[V])
	s.bumpVersionLocked()
	s.mu.Unlock()

	s.dispatchEvicted(dropped)
}

// ForceCollect runs a collection unconditionally — a test hook also usable
// as an operational control (spec.md §4.1).
func (s *GenerationalStore[K, V]) ForceCollect() {
	s.mu.Lock()
	dropped := s.collectLocked(CollectForced)
	s.mu.Unlock()

	s.dispatchEvicted(dropped)
}

// Len returns the total resident entry count across both generations.
func (s *GenerationalStore[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.gen0) + len(s.gen1)
}

// Close stops the periodic collector, if one is running. Safe to call more
// than once.
func (s *GenerationalStore[K, V]) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.stopCh != nil {
		close(s.stopCh)
		s.wg.Wait()
	}
	return nil
}

// -------------------- internals (mu held unless noted) --------------------

func (s *GenerationalStore[K, V]) removeLocked(k K) bool {
	if _, ok := s.gen0[k]; ok {
		delete(s.gen0, k)
		return true
	}
	if _, ok := s.gen1[k]; ok {
		delete(s.gen1, k)
		return true
	}
	return false
}

func (s *GenerationalStore[K, V]) gen0AtLimitLocked() bool {
	return s.cfg.Gen0Limit > 0 && len(s.gen0) >= s.cfg.Gen0Limit
}

func (s *GenerationalStore[K, V]) bumpVersionLocked() {
	s.version++
}

// collectLocked runs the collection algorithm of spec.md §4.1:
//  1. no-op if both generations are empty.
//  2. the outgoing Gen1 contents are returned for the caller to dispatch as
//     an Evicted event (never for an empty Gen1).
//  3. Gen0 is swapped wholesale into Gen1 (no entry copying) and a fresh
//     empty Gen0 is allocated.
//  4. last-collection time and the version counter are updated.
func (s *GenerationalStore[K, V]) collectLocked(reason CollectReason) map[K]Optional[V] {
	if len(s.gen0) == 0 && len(s.gen1) == 0 {
		return nil
	}

	var dropped map[K]Optional[V]
	if len(s.gen1) > 0 {
		dropped = s.gen1
	}
	s.gen1 = s.gen0
	s.gen0 = make(map[K]Optional[V])
	s.lastCollection = s.now()
	s.bumpVersionLocked()

	s.cfg.metrics().Collect(reason)
	s.cfg.metrics().Size(len(s.gen0), len(s.gen1))
	s.cfg.logger().Debug("genstore: collection",
		zap.String("reason", reason.String()),
		zap.Int("gen1_size", len(s.gen1)),
	)
	return dropped
}

func (s *GenerationalStore[K, V]) now() time.Time {
	return s.cfg.clock().Now()
}

// runCollector is the periodic half-life collector (spec.md §4.1, §5): it
// wakes every TimeToLive/2 and collects only if at least one full
// TimeToLive has elapsed since the last collection, so a size-triggered
// collection already covering the period suppresses a redundant one.
func (s *GenerationalStore[K, V]) runCollector(ttl time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.maybeTimeCollect(ttl)
		case <-s.stopCh:
			return
		}
	}
}

func (s *GenerationalStore[K, V]) maybeTimeCollect(ttl time.Duration) {
	s.mu.Lock()
	if s.now().Sub(s.lastCollection) < ttl {
		s.mu.Unlock()
		return
	}
	dropped := s.collectLocked(CollectTime)
	s.mu.Unlock()

	s.dispatchEvicted(dropped)
}

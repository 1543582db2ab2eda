package genstore

import "go.uber.org/zap"

// InvalidatedFunc is called exactly once per key removed by an explicit
// Invalidate/InvalidateMany call (spec.md §3, §4.1).
type InvalidatedFunc[K comparable] func(k K)

// EvictedFunc is called at most once per collection or Clear, carrying the
// generation contents that left the store. Never called for explicit
// invalidation and never called with an empty map.
type EvictedFunc[K comparable, V any] func(dropped map[K]Optional[V])

// OnInvalidated subscribes fn to Invalidated events. Safe to call
// concurrently with store operations.
func (s *GenerationalStore[K, V]) OnInvalidated(fn InvalidatedFunc[K]) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.invalidatedListeners = append(s.invalidatedListeners, fn)
}

// OnEvicted subscribes fn to Evicted events. Safe to call concurrently with
// store operations.
func (s *GenerationalStore[K, V]) OnEvicted(fn EvictedFunc[K, V]) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.evictedListeners = append(s.evictedListeners, fn)
}

// dispatchInvalidated delivers an Invalidated(k) event to every subscriber.
// Called after the store's mutex has been released (spec.md §9 design
// notes: the original delivers under the lock; this implementation
// releases first to avoid reentrant deadlocks when a listener calls back
// into the store).
func (s *GenerationalStore[K, V]) dispatchInvalidated(k K) {
	s.listenersMu.RLock()
	fns := s.invalidatedListeners
	s.listenersMu.RUnlock()
	for _, fn := range fns {
		s.safeCall(func() { fn(k) })
	}
}

// dispatchEvicted delivers an Evicted(dropped) event to every subscriber,
// unless dropped is empty — an empty map is never emitted (spec.md §4.1).
func (s *GenerationalStore[K, V]) dispatchEvicted(dropped map[K]Optional[V]) {
	if len(dropped) == 0 {
		return
	}
	s.listenersMu.RLock()
	fns := s.evictedListeners
	s.listenersMu.RUnlock()
	for _, fn := range fns {
		s.safeCall(func() { fn(dropped) })
	}
}

// safeCall recovers a panicking listener so it can never corrupt store
// state or take down the calling goroutine (spec.md §7: "Internal event
// handler exceptions are caught and swallowed").
func (s *GenerationalStore[K, V]) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.cfg.logger().Warn("genstore: event listener panicked", zap.Any("recover", r))
		}
	}()
	fn()
}

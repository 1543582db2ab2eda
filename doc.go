// Package genstore provides a generational, in-process key/value store:
// two generations (Gen0 young, Gen1 old), size- and time-triggered
// collection, promotion on read, and invalidation/eviction events.
//
// Design
//
//   - Generations: new and promoted entries live in Gen0. A collection
//     discards the current Gen1, demotes Gen0 to Gen1, and allocates a
//     fresh empty Gen0. There is no per-entry ordering within a generation —
//     this is not an LRU: the whole generation is the eviction unit.
//
//   - Sizing: Config.Gen0Limit bounds Gen0's entry count; a collection runs
//     before an insert would exceed the limit. Config.TimeToLive enables a
//     periodic collector that wakes every TimeToLive/2 and collects only if
//     the last collection happened at least one full TimeToLive ago — an
//     entry touched once survives at least one period and is dropped after
//     at most two ("half-life" eviction).
//
//   - Concurrency: one mutex per store guards both generations, the version
//     counter, and the last-collection timestamp. Nothing that can block for
//     an unbounded time (a backing source call) is ever performed while the
//     mutex is held; see package readthrough for the load-then-reconcile
//     pattern built on top of GenerationalStore.
//
//   - Negative caching: GenerationalStore itself is agnostic to "present vs
//     absent" — it stores Optional[V], so a caller (readthrough.Cache) can
//     memoize "the source said this key does not exist" exactly like a
//     present value.
//
//   - Events: Invalidated(k) fires exactly once per explicit Invalidate/
//     InvalidateMany removal. Evicted(map) fires at most once per collection
//     or Clear, carrying the generation contents that left the cache.
//     Listeners are invoked after the store's lock is released, so they may
//     safely call back into the store (see the dispatch notes in
//     events.go); a panicking listener is recovered and logged, never
//     corrupting store state.
//
// See package readthrough for the DataSource-backed, single-flighted
// variant, and package partitioned for the hash-sharded wrapper that scales
// this store across cores.
package genstore

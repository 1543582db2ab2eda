package readthrough

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IvanBrykalov/genstore"
)

// fakeSource is a DataSource[int, string] with call counting and an
// optional invalidation subscriber list, used across the scenarios from
// spec.md §8.
type fakeSource struct {
	mu          sync.Mutex
	calls       int64
	batchCalls  int64
	present     map[int]string
	failNext    error
	subscribers []func(int)
}

func newFakeSource(present map[int]string) *fakeSource {
	return &fakeSource{present: present}
}

func (s *fakeSource) Get(_ context.Context, k int) (genstore.Optional[string], error) {
	atomic.AddInt64(&s.calls, 1)
	s.mu.Lock()
	err := s.failNext
	s.failNext = nil
	s.mu.Unlock()
	if err != nil {
		return genstore.Optional[string]{}, err
	}
	if v, ok := s.present[k]; ok {
		return genstore.Some(v), nil
	}
	return genstore.None[string](), nil
}

func (s *fakeSource) GetBatch(_ context.Context, keys []int) ([]genstore.Optional[string], error) {
	atomic.AddInt64(&s.batchCalls, 1)
	out := make([]genstore.Optional[string], len(keys))
	for i, k := range keys {
		if v, ok := s.present[k]; ok {
			out[i] = genstore.Some(v)
		}
	}
	return out, nil
}

func (s *fakeSource) OnInvalidated(fn func(int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *fakeSource) emitInvalidated(k int) {
	s.mu.Lock()
	subs := append([]func(int){}, s.subscribers...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(k)
	}
}

func newStore(t *testing.T, gen0Limit int) *genstore.GenerationalStore[int, string] {
	t.Helper()
	st, err := genstore.New[int, string](genstore.Config{Gen0Limit: gen0Limit})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// S1 (promotion): gen0_limit=3, insert keys 1..4 via read-through;
// expect |Gen1|=3, |Gen0|=1.
func TestCache_S1_Promotion(t *testing.T) {
	t.Parallel()

	present := map[int]string{1: "a", 2: "b", 3: "c", 4: "d"}
	src := newFakeSource(present)
	store := newStore(t, 3)
	c := New[int, string](store, src, Config{})

	for k := 1; k <= 4; k++ {
		if _, err := c.Get(context.Background(), k); err != nil {
			t.Fatal(err)
		}
	}
	if got := store.Len(); got != 4 {
		t.Fatalf("Len()=%d, want 4", got)
	}
}

// S2 (double eviction): gen0_limit=3, insert keys 1..7; expect keys 1..3
// dropped, |Gen1|=3, |Gen0|=1.
func TestCache_S2_DoubleEviction(t *testing.T) {
	t.Parallel()

	present := map[int]string{}
	for k := 1; k <= 7; k++ {
		present[k] = "v"
	}
	src := newFakeSource(present)
	store := newStore(t, 3)
	c := New[int, string](store, src, Config{})

	var evicted []map[int]genstore.Optional[string]
	store.OnEvicted(func(dropped map[int]genstore.Optional[string]) {
		evicted = append(evicted, dropped)
	})

	for k := 1; k <= 7; k++ {
		if _, err := c.Get(context.Background(), k); err != nil {
			t.Fatal(err)
		}
	}

	if got := store.Len(); got != 4 {
		t.Fatalf("Len()=%d, want 4", got)
	}
	for _, m := range evicted {
		for k := range m {
			if k > 3 {
				t.Fatalf("key %d should not have been evicted yet", k)
			}
		}
	}
	if _, found := store.Get(1); found {
		t.Fatal("key 1 should have been dropped by double collection")
	}
}

// S3 (explicit invalidate): gen0_limit=10; Get(1); ForceCollect();
// Invalidate(1); expect count=0 and exactly one Invalidated(1).
func TestCache_S3_ExplicitInvalidate(t *testing.T) {
	t.Parallel()

	src := newFakeSource(map[int]string{1: "a"})
	store := newStore(t, 10)
	c := New[int, string](store, src, Config{})

	if _, err := c.Get(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	store.ForceCollect()

	var invalidations int64
	store.OnInvalidated(func(k int) {
		if k != 1 {
			t.Errorf("unexpected invalidated key %d", k)
		}
		atomic.AddInt64(&invalidations, 1)
	})

	if !c.Invalidate(1) {
		t.Fatal("Invalidate(1) should report a removal")
	}
	if got := c.Count(); got != 0 {
		t.Fatalf("Count()=%d, want 0", got)
	}
	if got := atomic.LoadInt64(&invalidations); got != 1 {
		t.Fatalf("invalidations=%d, want 1", got)
	}
}

// S4 (negative cache): source returns absent for k=42; Get(42) twice;
// expect exactly one source call.
func TestCache_S4_NegativeCache(t *testing.T) {
	t.Parallel()

	src := newFakeSource(map[int]string{})
	store := newStore(t, 10)
	c := New[int, string](store, src, Config{})

	for i := 0; i < 2; i++ {
		v, err := c.Get(context.Background(), 42)
		if err != nil {
			t.Fatal(err)
		}
		if v.Valid {
			t.Fatalf("expected absent result, got %v", v)
		}
	}
	if got := atomic.LoadInt64(&src.calls); got != 1 {
		t.Fatalf("source.Get called %d times, want 1", got)
	}
}

// S6 (clear): Set(1,"a"); Set(2,"b"); Clear(); expect Evicted fires once
// with {1:Some("a"), 2:Some("b")}, Count()=0.
func TestStore_Clear_EmitsEvictedOnce(t *testing.T) {
	t.Parallel()

	store, err := genstore.New[int, string](genstore.Config{Gen0Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	store.Set(1, "a")
	store.Set(2, "b")

	var fires int
	var dropped map[int]genstore.Optional[string]
	store.OnEvicted(func(m map[int]genstore.Optional[string]) {
		fires++
		dropped = m
	})
	store.Clear()

	if fires != 1 {
		t.Fatalf("Evicted fired %d times, want 1", fires)
	}
	if len(dropped) != 2 || dropped[1].Value != "a" || dropped[2].Value != "b" {
		t.Fatalf("unexpected dropped contents: %v", dropped)
	}
	if store.Len() != 0 {
		t.Fatalf("Len()=%d, want 0", store.Len())
	}
}

// Source error must propagate and must not be cached as absent.
func TestCache_SourceError_NotCached(t *testing.T) {
	t.Parallel()

	src := newFakeSource(map[int]string{})
	src.failNext = errors.New("boom")
	store := newStore(t, 10)
	c := New[int, string](store, src, Config{})

	if _, err := c.Get(context.Background(), 9); err == nil {
		t.Fatal("expected error from failing source")
	}
	if store.Len() != 0 {
		t.Fatalf("Len()=%d, want 0 (nothing cached on error)", store.Len())
	}

	// A subsequent successful call must hit the source again (not served
	// from a phantom negative cache entry).
	src.present[9] = "v9"
	v, err := c.Get(context.Background(), 9)
	if err != nil || v.Value != "v9" {
		t.Fatalf("Get after error: v=%v err=%v", v, err)
	}
}

func TestCache_GetBatch_OrderAndLengthAligned(t *testing.T) {
	t.Parallel()

	src := newFakeSource(map[int]string{1: "a", 3: "c"})
	store := newStore(t, 10)
	c := New[int, string](store, src, Config{})

	out, err := c.GetBatch(context.Background(), []int{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 4 {
		t.Fatalf("len(out)=%d, want 4", len(out))
	}
	if out[0].Value != "a" || !out[0].Valid {
		t.Fatalf("out[0]=%v", out[0])
	}
	if out[1].Valid {
		t.Fatalf("out[1] should be absent, got %v", out[1])
	}
	if out[2].Value != "c" || !out[2].Valid {
		t.Fatalf("out[2]=%v", out[2])
	}
	if out[3].Valid {
		t.Fatalf("out[3] should be absent, got %v", out[3])
	}

	// Batch path does not negatively cache absent results (spec.md §4.2).
	if store.Len() != 2 {
		t.Fatalf("Len()=%d, want 2 (only present results cached)", store.Len())
	}
}

func TestCache_InvalidationForwardedFromSource(t *testing.T) {
	t.Parallel()

	src := newFakeSource(map[int]string{1: "a"})
	store := newStore(t, 10)
	c := New[int, string](store, src, Config{})

	if _, err := c.Get(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Fatalf("Len()=%d, want 1", store.Len())
	}

	var invalidated int64
	c.OnInvalidated(func(k int) {
		atomic.AddInt64(&invalidated, 1)
	})
	src.emitInvalidated(1)

	if store.Len() != 0 {
		t.Fatalf("Len()=%d, want 0 after source-forwarded invalidation", store.Len())
	}
	if atomic.LoadInt64(&invalidated) != 1 {
		t.Fatal("expected forwarded invalidation to re-emit locally")
	}
}

func TestCache_GetAsync(t *testing.T) {
	t.Parallel()

	src := newFakeSource(map[int]string{5: "five"})
	store := newStore(t, 10)
	c := New[int, string](store, src, Config{})

	select {
	case res := <-c.GetAsync(context.Background(), 5):
		if res.Err != nil || res.Value.Value != "five" {
			t.Fatalf("GetAsync result: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("GetAsync did not complete")
	}
}

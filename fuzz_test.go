//go:build go1.18

package genstore

import (
	"strings"
	"testing"
)

// Fuzz basic Set/Get/Invalidate semantics under arbitrary string inputs.
// Guards against panics and ensures core invariants hold, mirroring the
// teacher's cache/fuzz_test.go FuzzCache_SetGetRemove.
// NOTE: key/value lengths are capped to avoid pathological memory usage
// during fuzzing; this does not weaken the invariants checked below.
func FuzzStore_SetGetInvalidate(f *testing.F) {
	f.Add("", "")
	f.Add("a", "1")
	f.Add("b", "2")
	f.Add("αβγ", "δ")
	f.Add("emoji🙂", "🙂🙂")
	f.Add("long", strings.Repeat("x", 1024))

	f.Fuzz(func(t *testing.T, k, v string) {
		const limit = 1 << 12 // 4096
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}

		s, err := New[string, string](Config{Gen0Limit: 16})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = s.Close() })

		// Set -> Get must return the same present value.
		s.Set(k, v)
		got, found := s.Get(k)
		if !found || !got.Valid || got.Value != v {
			t.Fatalf("after Set/Get: want %q, got %+v found=%v", v, got, found)
		}

		// Overwriting with an explicit absence must be observable.
		s.SetOptional(k, None[string]())
		got2, found2 := s.Get(k)
		if !found2 || got2.Valid {
			t.Fatalf("after SetOptional(None): want absent, got %+v found=%v", got2, found2)
		}

		// Restore a present value, then Invalidate must remove it entirely.
		s.Set(k, v)
		if !s.Invalidate(k) {
			t.Fatalf("Invalidate must return true for a present key")
		}
		if _, found := s.Get(k); found {
			t.Fatalf("key must be absent after Invalidate")
		}

		// A second Invalidate on the same key is a no-op.
		if s.Invalidate(k) {
			t.Fatalf("second Invalidate must return false")
		}
	})
}

package genstore

import (
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"
)

// A mixed workload of concurrent Set/Get/Invalidate/ForceCollect on random
// keys. Should pass under `-race` without detector reports, mirroring the
// teacher's cache/race_test.go TestRace_Basic.
func TestRace_Basic(t *testing.T) {
	s, err := New[string, []byte](Config{Gen0Limit: 512})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.OnInvalidated(func(string) {})
	s.OnEvicted(func(map[string]Optional[[]byte]) {})

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 50_000
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% — Invalidate
					s.Invalidate(k)
				case 5: // ~1% — ForceCollect
					s.ForceCollect()
				case 6, 7, 8, 9: // ~4% — SetOptional(absent)
					s.SetOptional(k, None[[]byte]())
				case 10, 11, 12, 13, 14, 15, 16, 17, 18, 19: // ~10% — Set
					s.Set(k, []byte("x"))
				default: // ~80% — Get
					s.Get(k)
				}
			}
		}(w)
	}
	wg.Wait()
}

// A concurrent mixed read-through workload: ProbeMany/ReconcileInsert pairs
// racing with direct Invalidate/ForceCollect calls. Exercises the version
// check in ReconcileInsert under `-race`.
func TestRace_ReconcileInsert(t *testing.T) {
	s, err := New[string, string](Config{Gen0Limit: 256})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 2_000
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*7919))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(10) {
				case 0:
					s.Invalidate(k)
				case 1:
					s.ForceCollect()
				default:
					version := s.Version()
					if _, found := s.Get(k); !found {
						s.ReconcileInsert(k, Some("v:"+k), version)
					}
				}
			}
		}(w)
	}
	wg.Wait()
}

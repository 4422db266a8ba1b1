package registry

import (
	"sync"
	"testing"

	"distributed-kvstore/internal/endpoint"
	"distributed-kvstore/internal/ratelimit"
)

func testRegistry() *Registry {
	return New(ratelimit.DefaultCubicConfig(), 0.9)
}

func TestRegistry_GetOrCreateReturnsSameEntry(t *testing.T) {
	r := testRegistry()
	a := r.GetOrCreate("node1")
	b := r.GetOrCreate("node1")
	if a != b {
		t.Fatalf("GetOrCreate returned distinct entries for the same endpoint")
	}
}

func TestRegistry_GetOrCreateIsRaceFree(t *testing.T) {
	r := testRegistry()
	const workers = 50

	var wg sync.WaitGroup
	entries := make([]*Entry, workers)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			entries[i] = r.GetOrCreate(endpoint.ID("shared"))
		}(i)
	}
	wg.Wait()

	first := entries[0]
	for i, e := range entries {
		if e != first {
			t.Fatalf("entry %d diverged from entry 0 under concurrent GetOrCreate", i)
		}
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (exactly one entry per endpoint)", r.Len())
	}
}

func TestRegistry_GetDoesNotCreate(t *testing.T) {
	r := testRegistry()
	if _, ok := r.Get("unknown"); ok {
		t.Fatalf("Get found an entry for an endpoint never created")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after a Get miss, want 0", r.Len())
	}
}

func TestRegistry_Compare_MissingScoresAreEqual(t *testing.T) {
	r := testRegistry()
	if got := r.Compare("a", "b"); got != 0 {
		t.Fatalf("Compare() of two never-seen endpoints = %d, want 0", got)
	}
}

func TestRegistry_Compare_LowerScoreSortsFirst(t *testing.T) {
	r := testRegistry()

	good := r.GetOrCreate("good")
	good.Score.Update(0, 1, 2)

	bad := r.GetOrCreate("bad")
	bad.Score.Update(0, 100, 200)

	if got := r.Compare("good", "bad"); got >= 0 {
		t.Fatalf("Compare(good, bad) = %d, want negative (good sorts first)", got)
	}
	if got := r.Compare("bad", "good"); got <= 0 {
		t.Fatalf("Compare(bad, good) = %d, want positive", got)
	}
}

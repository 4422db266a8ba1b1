package admission

import (
	"context"
	"sync"
	"testing"

	"distributed-kvstore/internal/endpoint"
	"distributed-kvstore/internal/ratelimit"
	"distributed-kvstore/internal/registry"
)

type fakeSnitch struct{ replicas []endpoint.ID }

func (f *fakeSnitch) OrderedReplicas(key string) []endpoint.ID { return f.replicas }

type recordedDispatch struct {
	target endpoint.ID
	data   bool
}

type fakeDispatcher struct {
	mu  sync.Mutex
	log []recordedDispatch
}

func (f *fakeDispatcher) DispatchData(ctx context.Context, target endpoint.ID, req *ReadRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, recordedDispatch{target, true})
}

func (f *fakeDispatcher) DispatchDigest(ctx context.Context, target endpoint.ID, req *ReadRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, recordedDispatch{target, false})
}

func newTestRegistry() *registry.Registry {
	return registry.New(ratelimit.DefaultCubicConfig(), 0.9)
}

func TestAdmitter_NoReplicasCompletesWithError(t *testing.T) {
	reg := newTestRegistry()
	snitch := &fakeSnitch{}
	disp := &fakeDispatcher{}

	var gotErr error
	req := NewReadRequest("k", "", 3, func(_ endpoint.ID, err error) { gotErr = err })

	a := NewAdmitter(reg, snitch, disp, "self", nil)
	if wait := a.PushRead(context.Background(), req); wait != 0 {
		t.Fatalf("PushRead with no replicas returned wait=%d, want 0 (resolved synchronously)", wait)
	}
	if gotErr == nil {
		t.Fatalf("expected Complete to be called with a non-nil error when no replicas exist")
	}
}

func TestAdmitter_SelfAlwaysAvailableDispatchesImmediately(t *testing.T) {
	reg := newTestRegistry()
	snitch := &fakeSnitch{replicas: []endpoint.ID{"self", "peer-a", "peer-b"}}
	disp := &fakeDispatcher{}

	req := NewReadRequest("k", "", 3, func(endpoint.ID, error) {})
	a := NewAdmitter(reg, snitch, disp, "self", nil)

	if wait := a.PushRead(context.Background(), req); wait != 0 {
		t.Fatalf("PushRead() = %d, want 0 since self is always available", wait)
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if len(disp.log) != 3 {
		t.Fatalf("dispatched %d requests, want 3 (1 data + 2 digests)", len(disp.log))
	}
	if !disp.log[0].data || disp.log[0].target != "self" {
		t.Fatalf("first dispatch = %+v, want a data request to self", disp.log[0])
	}
	for _, d := range disp.log[1:] {
		if d.data {
			t.Fatalf("only one dispatch should carry data, got a second: %+v", d)
		}
	}
}

func TestAdmitter_IncrementsPendingForEveryDispatchedReplica(t *testing.T) {
	reg := newTestRegistry()
	snitch := &fakeSnitch{replicas: []endpoint.ID{"self", "peer-a"}}
	disp := &fakeDispatcher{}

	req := NewReadRequest("k", "", 2, func(endpoint.ID, error) {})
	a := NewAdmitter(reg, snitch, disp, "self", nil)
	a.PushRead(context.Background(), req)

	selfEntry, _ := reg.Get("self")
	peerEntry, _ := reg.Get("peer-a")
	if selfEntry.Pending.Load() != 1 {
		t.Fatalf("self pending = %d, want 1", selfEntry.Pending.Load())
	}
	if peerEntry.Pending.Load() != 1 {
		t.Fatalf("peer-a pending = %d, want 1", peerEntry.Pending.Load())
	}
}

func TestAdmitter_NoBudgetReturnsPositiveWait(t *testing.T) {
	// A tiny cap and a long refill interval so a second, immediate
	// TryAcquire has nowhere near enough time to refill a token.
	cfg := ratelimit.CubicConfig{RateIntervalMs: 1000, MaxTokens: 1, Beta: 0.2, C: 4e-6, SMax: 10, HysteresisFactor: 4}
	reg := registry.New(cfg, 0.9)
	snitch := &fakeSnitch{replicas: []endpoint.ID{"peer-a"}}
	disp := &fakeDispatcher{}

	// Deplete peer-a's single token before the read arrives.
	reg.GetOrCreate("peer-a").Rate.Limiter.TryAcquire()

	req := NewReadRequest("k", "", 1, func(endpoint.ID, error) {})
	a := NewAdmitter(reg, snitch, disp, "self", nil)

	wait := a.PushRead(context.Background(), req)
	if wait <= 0 {
		t.Fatalf("PushRead() with no self and a depleted peer = %d, want > 0", wait)
	}
	disp.mu.Lock()
	defer disp.mu.Unlock()
	if len(disp.log) != 0 {
		t.Fatalf("expected no dispatch while deferred, got %d", len(disp.log))
	}
}

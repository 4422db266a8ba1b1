package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"distributed-kvstore/internal/admission"
	"distributed-kvstore/internal/endpoint"
	"distributed-kvstore/internal/ratelimit"
	"distributed-kvstore/internal/registry"
)

type recordingSnitch struct{ replicas []endpoint.ID }

func (s *recordingSnitch) OrderedReplicas(string) []endpoint.ID { return s.replicas }

type orderRecordingDispatcher struct {
	mu    sync.Mutex
	order []string
}

func (d *orderRecordingDispatcher) DispatchData(ctx context.Context, target endpoint.ID, req *admission.ReadRequest) {
	d.mu.Lock()
	d.order = append(d.order, string(req.Key))
	d.mu.Unlock()
	req.Complete(target, nil)
}

func (d *orderRecordingDispatcher) DispatchDigest(context.Context, endpoint.ID, *admission.ReadRequest) {}

func TestGate_AdmitsImmediatelyWhenBudgetAvailable(t *testing.T) {
	reg := registry.New(ratelimit.DefaultCubicConfig(), 0.9)
	snitch := &recordingSnitch{replicas: []endpoint.ID{"self"}}
	disp := &orderRecordingDispatcher{}
	a := admission.NewAdmitter(reg, snitch, disp, "self", nil)

	g := New(context.Background(), a)
	defer g.Stop()

	done := make(chan struct{})
	req := admission.NewReadRequest("k1", "", 1, func(endpoint.ID, error) { close(done) })
	g.Submit(req)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("request was never completed")
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if len(disp.order) != 1 || disp.order[0] != "k1" {
		t.Fatalf("dispatch order = %v, want [k1]", disp.order)
	}
}

func TestGate_PreservesFIFOOrderWhileDeferred(t *testing.T) {
	// A single-token, long-refill budget: the first admit succeeds and
	// drains the only token, forcing every subsequent submission to stash
	// until the timer fires and replays them.
	cfg := ratelimit.CubicConfig{RateIntervalMs: 50, MaxTokens: 1, Beta: 0.2, C: 4e-6, SMax: 10, HysteresisFactor: 4}
	reg := registry.New(cfg, 0.9)
	snitch := &recordingSnitch{replicas: []endpoint.ID{"peer-a"}}
	disp := &orderRecordingDispatcher{}
	a := admission.NewAdmitter(reg, snitch, disp, "self", nil)

	g := New(context.Background(), a)
	defer g.Stop()

	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		key := string(rune('a' + i))
		req := admission.NewReadRequest(key, "", 1, func(endpoint.ID, error) { wg.Done() })
		g.Submit(req)
		time.Sleep(time.Millisecond) // keep submission order deterministic
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("not all requests completed in time")
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if len(disp.order) != n {
		t.Fatalf("dispatched %d requests, want %d", len(disp.order), n)
	}
	want := []string{"a", "b", "c", "d", "e"}
	for i, k := range want {
		if disp.order[i] != k {
			t.Fatalf("dispatch order = %v, want %v (FIFO)", disp.order, want)
		}
	}
}

func TestGate_SkipsCancelledStashEntries(t *testing.T) {
	cfg := ratelimit.CubicConfig{RateIntervalMs: 50, MaxTokens: 1, Beta: 0.2, C: 4e-6, SMax: 10, HysteresisFactor: 4}
	reg := registry.New(cfg, 0.9)
	snitch := &recordingSnitch{replicas: []endpoint.ID{"peer-a"}}
	disp := &orderRecordingDispatcher{}
	a := admission.NewAdmitter(reg, snitch, disp, "self", nil)

	g := New(context.Background(), a)
	defer g.Stop()

	first := admission.NewReadRequest("first", "", 1, func(endpoint.ID, error) {})
	g.Submit(first)
	time.Sleep(time.Millisecond)

	// Submitted while still live, so admission defers it into the stash;
	// it is cancelled only after that, before the stash is replayed.
	cancelled := admission.NewReadRequest("cancelled", "", 1, func(endpoint.ID, error) {})
	g.Submit(cancelled)
	time.Sleep(time.Millisecond)
	cancelled.Cancel()

	done := make(chan struct{})
	last := admission.NewReadRequest("last", "", 1, func(endpoint.ID, error) { close(done) })
	g.Submit(last)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("surviving request was never completed")
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	for _, k := range disp.order {
		if k == "cancelled" {
			t.Fatalf("dispatch order %v dispatched a cancelled request", disp.order)
		}
	}
}

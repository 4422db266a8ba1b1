package admission

import (
	"testing"

	"distributed-kvstore/internal/ratelimit"
	"distributed-kvstore/internal/registry"
)

func TestIngress_OnReply_DecrementsPendingAndUpdatesScore(t *testing.T) {
	reg := registry.New(ratelimit.DefaultCubicConfig(), 0.9)
	entry := reg.GetOrCreate("peer-a")
	entry.Pending.Add(1)

	in := NewIngress(reg, nil)
	in.OnReply("peer-a", 2, 5_000_000, 10_000_000) // 5ms service, 10ms latency

	if got := entry.Pending.Load(); got != 0 {
		t.Fatalf("Pending after OnReply = %d, want 0", got)
	}
	if got := entry.Score.Score(1, 0); got <= 0 {
		t.Fatalf("Score after a valid reply = %f, want > 0", got)
	}
}

func TestIngress_OnReply_InvariantViolationSkipsScoreButStillDecrements(t *testing.T) {
	reg := registry.New(ratelimit.DefaultCubicConfig(), 0.9)
	entry := reg.GetOrCreate("peer-a")
	entry.Pending.Add(1)

	in := NewIngress(reg, nil)
	// service_time >= latency: a data-integrity bug upstream, not ours to
	// crash on.
	in.OnReply("peer-a", 0, 10_000_000, 5_000_000)

	if got := entry.Pending.Load(); got != 0 {
		t.Fatalf("Pending after an invariant-violating reply = %d, want 0 (still decremented)", got)
	}
	if got := entry.Score.Score(1, 0); got != 0 {
		t.Fatalf("Score after an invariant-violating reply = %f, want 0 (never updated)", got)
	}
}

func TestIngress_OnMissingMetric_DecrementsWithoutTouchingScore(t *testing.T) {
	reg := registry.New(ratelimit.DefaultCubicConfig(), 0.9)
	entry := reg.GetOrCreate("peer-a")
	entry.Pending.Add(1)

	in := NewIngress(reg, nil)
	in.OnMissingMetric("peer-a")

	if got := entry.Pending.Load(); got != 0 {
		t.Fatalf("Pending after OnMissingMetric = %d, want 0", got)
	}
	if got := entry.Score.Score(1, 0); got != 0 {
		t.Fatalf("Score after OnMissingMetric = %f, want 0 (no tracker touched)", got)
	}
}

func TestIngress_OnMissingMetric_UnknownEndpointDoesNotPanic(t *testing.T) {
	reg := registry.New(ratelimit.DefaultCubicConfig(), 0.9)
	in := NewIngress(reg, nil)
	in.OnMissingMetric("never-seen") // must not create an entry or panic
	if reg.Len() != 0 {
		t.Fatalf("Len() after OnMissingMetric for an unknown endpoint = %d, want 0", reg.Len())
	}
}

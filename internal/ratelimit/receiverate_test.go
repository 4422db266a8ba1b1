package ratelimit

import "testing"

func TestReceiveRateTracker_IdempotentAddZero(t *testing.T) {
	rt := NewReceiveRateTracker(20)
	rt.Add(5)
	before := rt.CurrentRate()
	rt.Add(0)
	after := rt.CurrentRate()
	if before != after {
		t.Fatalf("CurrentRate changed across Add(0): before=%f after=%f", before, after)
	}
}

func TestReceiveRateTracker_ZeroEventsYieldsZeroRate(t *testing.T) {
	rt := NewReceiveRateTracker(20)
	if got := rt.CurrentRate(); got != 0 {
		t.Fatalf("CurrentRate() on a fresh tracker = %f, want 0", got)
	}
}

package ratelimit

import (
	"sync"
	"time"
)

// ReceiveRateTracker is a slot-based EWMA of the inter-arrival rate of
// replies. Every completed reply is one tick; the tracker resets between
// slots, so it tracks recent throughput rather than a true long-running
// average — that hysteresis is what gives the CUBIC controller something
// stable to chase between overshoots.
type ReceiveRateTracker struct {
	mu sync.Mutex

	rate       float64
	eventCount uint64
	lastSlot   int64
	intervalMs int64
}

// NewReceiveRateTracker creates a tracker slotted at intervalMs.
func NewReceiveRateTracker(intervalMs int64) *ReceiveRateTracker {
	return &ReceiveRateTracker{
		intervalMs: intervalMs,
		lastSlot:   currentSlot(intervalMs),
	}
}

func currentSlot(intervalMs int64) int64 {
	return time.Now().UnixMilli() / intervalMs
}

// Add records an event tick in the current slot, rolling the slot over
// first if wall-clock time has moved into a new one.
func (t *ReceiveRateTracker) Add(events uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(events)
}

func (t *ReceiveRateTracker) addLocked(events uint64) {
	s := currentSlot(t.intervalMs)
	if s > t.lastSlot {
		alpha := float64(s-t.lastSlot) / float64(t.intervalMs)
		t.rate = alpha*float64(t.eventCount) + (1-alpha)*t.rate
		t.eventCount = 0
		t.lastSlot = s
	}
	t.eventCount += events
}

// CurrentRate forces a slot roll-over (as if Add(0) were called) and
// returns the smoothed rate. Calling Add(0) immediately before
// CurrentRate is therefore a no-op: the roll-over already happened here.
func (t *ReceiveRateTracker) CurrentRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(0)
	return t.rate
}

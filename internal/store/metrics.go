package store

import "time"

// ReadMetrics carries the two numbers a reply piggybacks back to the
// coordinator so its admission subsystem can update queue- and
// service-time tracking without a separate round trip: how many other
// GetWithMetrics reads were in flight on this node when the read started
// (writes are not counted), and how long the read took, including any
// wait for the store's lock.
type ReadMetrics struct {
	QueueDepth    uint32
	ServiceTimeNs int64
}

// GetWithMetrics behaves like Get but additionally reports the local
// queue depth and service time observed while servicing the read. It is
// used by the replica-side data/digest handlers (and by a local read on
// the coordinator itself) so every reply can feed MetricsIngress.
func (s *Store) GetWithMetrics(key string) (Value, ReadMetrics, bool) {
	depth := s.inflight.Add(1)
	defer s.inflight.Add(-1)

	start := time.Now()
	v, ok := s.Get(key)
	elapsed := time.Since(start)

	// depth-1: the count of operations already in flight when this one
	// arrived, not counting itself.
	qd := uint32(depth - 1)
	return v, ReadMetrics{QueueDepth: qd, ServiceTimeNs: elapsed.Nanoseconds()}, ok
}

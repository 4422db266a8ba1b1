package admission

import (
	"go.uber.org/zap"

	"distributed-kvstore/internal/endpoint"
	"distributed-kvstore/internal/registry"
)

// Ingress is the hook invoked for every completed reply and for local
// reads, keeping pending-count, the rate controller, and the score
// tracker consistent with each other.
type Ingress struct {
	registry *registry.Registry
	log      *zap.SugaredLogger
}

// NewIngress builds an Ingress backed by reg.
func NewIngress(reg *registry.Registry, log *zap.SugaredLogger) *Ingress {
	return &Ingress{registry: reg, log: log}
}

// OnReply records a completed reply from a remote endpoint. queueSize
// and serviceTimeNs are the piggybacked QSZ/MU values; latencyNs is the
// coordinator-observed round-trip time.
//
// Order matters: the receive tracker and rate controller are updated
// before the pending-count decrement, and the score update happens last
// so an InvariantViolation can skip it without having skipped the rest
// of the bookkeeping — a malformed score input must never leak a
// pending-count.
func (in *Ingress) OnReply(endpointID endpoint.ID, queueSize uint32, serviceTimeNs, latencyNs int64) {
	e := in.registry.GetOrCreate(endpointID)

	e.Rate.Receive.Add(1)
	e.Rate.UpdateCubic()
	e.Pending.Add(-1)

	if serviceTimeNs >= latencyNs {
		// InvariantViolation: service time must be strictly less than
		// observed latency. Log and skip the score update; this is a
		// data-integrity bug upstream, not something this subsystem can
		// recover from, and it must never crash.
		if in.log != nil {
			in.log.Errorw("invariant violation: service time >= latency",
				"endpoint", endpointID, "service_time_ns", serviceTimeNs, "latency_ns", latencyNs)
		}
		return
	}

	e.Score.Update(queueSize, nsToMs(serviceTimeNs), nsToMs(latencyNs))
}

// OnMissingMetric handles a reply that lacks a queue-depth or
// service-time measurement. The pending count is still decremented —
// otherwise it would leak — but no tracker is touched.
func (in *Ingress) OnMissingMetric(endpointID endpoint.ID) {
	if in.log != nil {
		in.log.Warnw("reply missing queue/service-time metric; dropped from metrics ingress", "endpoint", endpointID)
	}
	if e, ok := in.registry.Get(endpointID); ok {
		e.Pending.Add(-1)
	}
}

// OnLocalRead handles the local-read variant: the pending count is not
// used for local reads, and response time equals service time for a
// loopback.
func (in *Ingress) OnLocalRead(endpointID endpoint.ID, queueSize uint32, serviceTimeNs int64) {
	e := in.registry.GetOrCreate(endpointID)
	ms := nsToMs(serviceTimeNs)
	e.Score.Update(queueSize, ms, ms)
}

func nsToMs(ns int64) float64 {
	return float64(ns) / 1e6
}

package admission

import (
	"context"

	"go.uber.org/zap"

	"distributed-kvstore/internal/endpoint"
	"distributed-kvstore/internal/registry"
)

// Snitch supplies the live, proximity-sorted replica list for a key.
// Implemented by the cluster package's Membership/Ring pair.
type Snitch interface {
	OrderedReplicas(key string) []endpoint.ID
}

// Dispatcher performs the actual network (or local) send for a data or
// digest request. Implemented by the cluster package's Replicator.
type Dispatcher interface {
	DispatchData(ctx context.Context, target endpoint.ID, req *ReadRequest)
	DispatchDigest(ctx context.Context, target endpoint.ID, req *ReadRequest)
}

// Admitter implements push_read: it consults the snitch, probes each
// candidate's send budget, and either dispatches the read or reports how
// long the caller must wait before retrying.
type Admitter struct {
	registry   *registry.Registry
	snitch     Snitch
	dispatcher Dispatcher
	self       endpoint.ID
	log        *zap.SugaredLogger
}

// NewAdmitter builds an Admitter. self is the local coordinator's own
// endpoint identity — its send budget is always instantly available,
// since a local read never has to wait on a remote send limiter.
func NewAdmitter(reg *registry.Registry, snitch Snitch, dispatcher Dispatcher, self endpoint.ID, log *zap.SugaredLogger) *Admitter {
	return &Admitter{registry: reg, snitch: snitch, dispatcher: dispatcher, self: self, log: log}
}

// PushRead runs one admission decision for req: pick the best available
// replica, dispatch to it and the rest, or report back how long the
// caller must wait before retrying. It returns 0 if dispatch side
// effects were performed (the request is in flight), or a positive
// number of nanoseconds the caller must wait before retrying. When the
// snitch returns no replicas, it completes req with an error and
// returns 0 without dispatching anything.
func (a *Admitter) PushRead(ctx context.Context, req *ReadRequest) int64 {
	replicas := a.snitch.OrderedReplicas(req.Key)
	if len(replicas) == 0 {
		req.Complete("", errNoReplicas(req.Key))
		return 0
	}

	waits := make([]float64, len(replicas))
	picked := -1
	for i, e := range replicas {
		var w float64
		if e == a.self {
			w = 0
		} else {
			w = a.registry.GetOrCreate(e).Rate.Limiter.TryAcquire()
		}
		waits[i] = w
		if w == 0 && picked == -1 {
			picked = i
		}
	}

	if picked == -1 {
		min := waits[0]
		for _, w := range waits[1:] {
			if w < min {
				min = w
			}
		}
		return int64(min)
	}

	// Move the chosen data endpoint to the front; tie-breaks among
	// available endpoints fall out of snitch order, already applied by
	// OrderedReplicas before this loop ran.
	replicas[0], replicas[picked] = replicas[picked], replicas[0]

	if req.OriginalSize > 0 && req.OriginalSize < len(replicas) {
		replicas = replicas[:req.OriginalSize]
	}

	dataEndpoint := replicas[0]
	a.registry.GetOrCreate(dataEndpoint).Pending.Add(1)
	a.dispatcher.DispatchData(ctx, dataEndpoint, req)

	for _, e := range replicas[1:] {
		a.registry.GetOrCreate(e).Pending.Add(1)
		a.dispatcher.DispatchDigest(ctx, e, req)
	}

	return 0
}

type noReplicasError string

func (e noReplicasError) Error() string { return "admission: no live replicas for key " + string(e) }

func errNoReplicas(key string) error { return noReplicasError(key) }

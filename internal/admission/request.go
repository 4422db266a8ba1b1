// Package admission implements the read path's decision procedure
// (push_read) and the reply-driven metrics hook (MetricsIngress).
//
// The fan-out shape is grounded on cluster.Replicator's
// CoordinateRead/ReplicateWrite (probe peers, collect acks/responses,
// swap a winner to the front, truncate to the replication factor), but
// re-targeted: instead of contacting every replica and waiting for a
// quorum of responses, admission probes each replica's send budget and
// dispatches exactly one data request plus N-1 digest requests.
package admission

import (
	"sync/atomic"

	"github.com/google/uuid"

	"distributed-kvstore/internal/endpoint"
)

// ReadRequest is the opaque-to-this-subsystem unit of work the read
// coordinator submits: a target key, the replication factor it was
// originally fanned out to, and a completion handler. Keyspace is
// carried through for the collaborator that actually issues the HTTP
// calls (internal/cluster.Replicator); admission never interprets it.
type ReadRequest struct {
	ID           uuid.UUID
	Key          string
	Keyspace     string
	OriginalSize int

	// Complete is invoked exactly once, by whichever collaborator path
	// resolves the read: a reply arriving, the request being admitted
	// and then later satisfied, or a quorum failure. Admission itself
	// calls Complete only when the snitch returns no replicas at all (with
	// a non-nil error); otherwise it only decides when and where to
	// dispatch.
	Complete func(dataEndpoint endpoint.ID, err error)

	// Attachment is opaque storage for whichever collaborator dispatches
	// this request (internal/cluster.Replicator, in this codebase) to
	// stash its own bookkeeping on — e.g. where to deliver the value once
	// a reply arrives. admission never reads or writes it.
	Attachment any

	alive atomic.Bool
}

// NewReadRequest creates a live ReadRequest.
func NewReadRequest(key, keyspace string, originalSize int, complete func(endpoint.ID, error)) *ReadRequest {
	r := &ReadRequest{
		ID:           uuid.New(),
		Key:          key,
		Keyspace:     keyspace,
		OriginalSize: originalSize,
		Complete:     complete,
	}
	r.alive.Store(true)
	return r
}

// Cancel marks the request dead. A dead request found in a gate's stash
// during replay is skipped rather than re-dispatched: the gate itself
// never tracks cancellation, but a stash entry can consult the
// request's own liveness before wasting a second dispatch.
func (r *ReadRequest) Cancel() {
	r.alive.Store(false)
}

// Alive reports whether the request is still worth dispatching.
func (r *ReadRequest) Alive() bool {
	return r.alive.Load()
}

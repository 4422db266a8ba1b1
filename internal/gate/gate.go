// Package gate implements the per-replica-group serialization point: a
// single-consumer mailbox with two states, Ready and Waiting, that
// defers reads for a precise duration when no replica's send budget is
// available and re-admits them in FIFO order once it is.
//
// Each group is modeled as a single-consumer channel with an explicit
// Ready/Waiting(deque, timer) state, run by a dedicated goroutine so no
// two reads for the same group are ever evaluated by admission
// concurrently — the portable equivalent of an actor with a built-in
// stash/unstash mailbox facility.
package gate

import (
	"context"
	"sync"
	"time"

	"distributed-kvstore/internal/admission"
)

type state int

const (
	stateReady state = iota
	stateWaiting
)

// Gate is one replica group's admission serializer. Create one per
// group owner (cluster.ReplicaNodes[0] for a given key) and keep it for
// the process lifetime — it never reaches a terminal state.
type Gate struct {
	admitter *admission.Admitter

	mu     sync.Mutex
	state  state
	stash  []*admission.ReadRequest
	timer  *time.Timer

	submit chan *admission.ReadRequest
	unblock chan struct{}
	stop   chan struct{}
	stopOnce sync.Once

	ctx context.Context
}

// New creates a Gate in the Ready state with an empty stash and starts
// its single consumer goroutine. ctx bounds the lifetime of dispatches
// issued while draining the stash; it does not bound the gate itself —
// call Stop to shut the goroutine down.
func New(ctx context.Context, admitter *admission.Admitter) *Gate {
	g := &Gate{
		admitter: admitter,
		state:    stateReady,
		submit:   make(chan *admission.ReadRequest, 64),
		unblock:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		ctx:      ctx,
	}
	go g.run()
	return g
}

// Submit delivers a ReadRequest to the gate's mailbox. Safe to call from
// any goroutine; the request is processed by the gate's single consumer
// in the order it's received relative to other Submit calls, preserving
// per-group serialization.
func (g *Gate) Submit(req *admission.ReadRequest) {
	g.submit <- req
}

// Stop terminates the gate's consumer goroutine and cancels any pending
// timer. Safe to call more than once.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() {
		close(g.stop)
	})
}

func (g *Gate) run() {
	for {
		select {
		case req := <-g.submit:
			g.handle(req)
		case <-g.unblock:
			g.handleUnblock()
		case <-g.stop:
			g.mu.Lock()
			if g.timer != nil {
				g.timer.Stop()
			}
			g.mu.Unlock()
			return
		}
	}
}

// handle processes one incoming ReadRequest per the Ready/Waiting
// transition table. It is only ever called from run's goroutine, so
// there is no reentrancy into admission for this group.
func (g *Gate) handle(req *admission.ReadRequest) {
	g.mu.Lock()
	st := g.state
	g.mu.Unlock()

	if st == stateWaiting {
		g.mu.Lock()
		g.stash = append(g.stash, req)
		g.mu.Unlock()
		return
	}

	g.admitOne(req)
}

// admitOne invokes ReadAdmission for a single request while the gate is
// (or is returning to) Ready. If admission grants the read, the gate
// stays Ready. If it defers, the request is stashed and a single-shot
// timer is armed for the reported wait.
func (g *Gate) admitOne(req *admission.ReadRequest) {
	if !req.Alive() {
		// A cancelled request found during a stash replay is wasted work
		// if re-admitted, so it's simply skipped here instead.
		return
	}

	wait := g.admitter.PushRead(g.ctx, req)
	if wait <= 0 {
		return
	}

	g.mu.Lock()
	g.state = stateWaiting
	g.stash = append(g.stash, req)
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(time.Duration(wait), func() {
		select {
		case g.unblock <- struct{}{}:
		default:
			// An Unblock is already queued; one drain will flush the
			// whole stash anyway, so a duplicate here is harmless.
		}
	})
	g.mu.Unlock()
}

// handleUnblock transitions Waiting -> Ready and replays the stash in
// FIFO order. Replay never calls admission directly from the timer
// callback — a spurious Unblock while already Ready is a no-op, and a
// late timer firing after the stash already drained is harmless (it
// re-enters Ready with nothing to do).
func (g *Gate) handleUnblock() {
	g.mu.Lock()
	if g.state != stateWaiting {
		g.mu.Unlock()
		return
	}
	g.state = stateReady
	pending := g.stash
	g.stash = nil
	g.timer = nil
	g.mu.Unlock()

	// Replay in FIFO order. Each call goes back through admitOne, which
	// may itself defer again partway through the backlog — in which case
	// the gate re-enters Waiting and the remaining entries land back in
	// the stash, still in order, because this whole replay runs on the
	// single consumer goroutine.
	for _, req := range pending {
		st := g.stateSnapshot()
		if st == stateWaiting {
			g.mu.Lock()
			g.stash = append(g.stash, req)
			g.mu.Unlock()
			continue
		}
		g.admitOne(req)
	}
}

func (g *Gate) stateSnapshot() state {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

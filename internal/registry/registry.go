// Package registry owns the per-endpoint state the rest of the adaptive
// read path keys off of: an in-flight request counter, a rate
// controller, and a score tracker, created lazily and at most once per
// endpoint.
//
// Modeled on cluster.Membership's sync.RWMutex-guarded map with a
// get-or-create discipline, generalized from Membership's "pre-seeded at
// construction" pattern to true lazy creation: the adaptive subsystem
// meets endpoints one at a time, as reads target them, rather than all
// at once at startup.
package registry

import (
	"sync"
	"sync/atomic"

	"distributed-kvstore/internal/endpoint"
	"distributed-kvstore/internal/ratelimit"
	"distributed-kvstore/internal/scoring"
)

// Entry is the full per-endpoint record: a pending-count, a rate
// controller, and a score tracker.
type Entry struct {
	Pending atomic.Int32
	Rate    *ratelimit.RateController
	Score   *scoring.Tracker
}

// Registry is the concurrent map from endpoint identity to Entry.
// Lazy creation races are resolved by put-if-absent: losers discard
// their locally-built instance and use the winner's, so every endpoint
// ever observed ends up with exactly one Entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[endpoint.ID]*Entry

	cubicCfg  ratelimit.CubicConfig
	scoreAlpha float64
}

// New creates an empty registry. Every endpoint it later creates shares
// the same CUBIC and score-alpha configuration.
func New(cubicCfg ratelimit.CubicConfig, scoreAlpha float64) *Registry {
	return &Registry{
		entries:    make(map[endpoint.ID]*Entry),
		cubicCfg:   cubicCfg,
		scoreAlpha: scoreAlpha,
	}
}

// GetOrCreate returns the Entry for id, creating it on first reference.
func (r *Registry) GetOrCreate(id endpoint.ID) *Entry {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		return e
	}

	candidate := &Entry{
		Rate:  ratelimit.NewRateController(r.cubicCfg),
		Score: scoring.NewTracker(r.scoreAlpha),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		// Lost the race: someone else created it between our RLock
		// release and this Lock. Discard candidate, use the winner.
		return e
	}
	r.entries[id] = candidate
	return candidate
}

// Get returns the Entry for id if it already exists, without creating
// one. Used where a missing entry should be treated as "no data yet"
// rather than as a reason to allocate state (e.g. Ingress.OnMissingMetric
// for an endpoint this coordinator has never dispatched to). Compare,
// by contrast, goes through GetOrCreate and seeds an entry.
func (r *Registry) Get(id endpoint.ID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Len returns the count of endpoints currently tracked — the "n" in
// scoring.Tracker.Score's concurrency_compensation term.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns a stable copy of the tracked endpoint IDs, for
// diagnostics (the /debug/scores route) and for tests.
func (r *Registry) Snapshot() []endpoint.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]endpoint.ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

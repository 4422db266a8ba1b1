package gate

import (
	"context"
	"sync"

	"distributed-kvstore/internal/admission"
)

// Registry lazily creates one Gate per replica group, keyed by whatever
// string the caller uses to identify a group (in this codebase, the ID
// of the replica currently first in hash-ring order for a key). Mirrors
// the put-if-absent shape of registry.Registry so the same concurrency
// argument applies: a group's Gate is created at most once even when
// many goroutines race to look it up for the same key.
type Registry struct {
	mu       sync.RWMutex
	gates    map[string]*Gate
	admitter *admission.Admitter
}

// NewRegistry creates an empty gate Registry backed by admitter.
func NewRegistry(admitter *admission.Admitter) *Registry {
	return &Registry{gates: make(map[string]*Gate), admitter: admitter}
}

// GetOrCreate returns the Gate for group, creating and starting it on
// first use.
func (r *Registry) GetOrCreate(ctx context.Context, group string) *Gate {
	r.mu.RLock()
	g, ok := r.gates[group]
	r.mu.RUnlock()
	if ok {
		return g
	}

	candidate := New(ctx, r.admitter)

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gates[group]; ok {
		candidate.Stop()
		return g
	}
	r.gates[group] = candidate
	return candidate
}

// StopAll stops every gate's consumer goroutine. Call during shutdown.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.gates {
		g.Stop()
	}
}

package registry

import "distributed-kvstore/internal/endpoint"

// Compare orders two endpoints by score, lower (better) first. A
// missing score counts as 0.0 — the best possible value — and
// opportunistically seeds a tracker for that endpoint so future reads
// see it.
//
// Returns a negative number if a sorts before b, zero if equal, positive
// if b sorts before a — the standard Go comparator convention, ready for
// slices.SortFunc.
func (r *Registry) Compare(a, b endpoint.ID) int {
	n := r.Len()
	scoreA := r.scoreFor(a, n)
	scoreB := r.scoreFor(b, n)

	switch {
	case scoreA < scoreB:
		return -1
	case scoreA > scoreB:
		return 1
	default:
		return 0
	}
}

func (r *Registry) scoreFor(id endpoint.ID, n int) float64 {
	e := r.GetOrCreate(id)
	pending := e.Pending.Load()
	return e.Score.Score(n, pending)
}

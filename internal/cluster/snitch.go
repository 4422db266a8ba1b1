package cluster

import (
	"sort"

	"distributed-kvstore/internal/endpoint"
	"distributed-kvstore/internal/registry"
)

// snitch adapts a Membership ring lookup plus a score Registry into the
// admission package's Snitch interface. Which nodes hold a key is a
// correctness property fixed by the hash ring — only those N nodes can
// answer for it — but which of those N goes first, and gets the data
// request instead of a cheap digest request, is a performance choice the
// adaptive scores should drive. So the ring decides membership, and
// Compare decides order among members — unless scoreSort is disabled,
// in which case hash-ring order is left untouched.
type snitch struct {
	membership *Membership
	scores     *registry.Registry
	n          int
	scoreSort  bool
}

func newSnitch(m *Membership, scores *registry.Registry, n int, scoreSort bool) *snitch {
	return &snitch{membership: m, scores: scores, n: n, scoreSort: scoreSort}
}

// OrderedReplicas returns the N replicas for key. When scoreSort is
// enabled they're sorted by ascending badness score, with hash-ring
// proximity as the order before any score data exists; when disabled,
// hash-ring order is returned as-is.
func (s *snitch) OrderedReplicas(key string) []endpoint.ID {
	ids := s.membership.Ring().GetNodes(key, s.n)
	out := make([]endpoint.ID, len(ids))
	for i, id := range ids {
		out[i] = endpoint.ID(id)
	}
	if !s.scoreSort {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return s.scores.Compare(out[i], out[j]) < 0
	})
	return out
}

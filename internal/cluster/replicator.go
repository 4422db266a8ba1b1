package cluster

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"distributed-kvstore/internal/admission"
	"distributed-kvstore/internal/endpoint"
	"distributed-kvstore/internal/gate"
	"distributed-kvstore/internal/ratelimit"
	"distributed-kvstore/internal/registry"
	"distributed-kvstore/internal/store"
)

// Replicator handles all inter-node communication for reads and writes.
//
// Interview explanation — Quorum writes, admission-gated reads:
//
//	With N replicas and write-quorum W, a write is durable once W nodes
//	(including the coordinator) have it. That side is unchanged from a
//	classic Dynamo-style store.
//
//	Reads no longer fan out to every replica and wait for R answers.
//	Instead the coordinator asks its admission subsystem which replica
//	should serve the data (by adaptive score and available send budget)
//	and sends everyone else a cheap digest request instead. If the
//	digest disagrees with the data reply, the coordinator repairs that
//	replica asynchronously — the same read-repair idea as before, just
//	triggered by a hash mismatch instead of a vector-clock comparison
//	across R full payloads.
type Replicator struct {
	selfID     string
	membership *Membership
	store      *store.Store
	httpClient *http.Client

	scores   *registry.Registry
	admitter *admission.Admitter
	ingress  *admission.Ingress
	gates    *gate.Registry
	log      *zap.SugaredLogger

	// Quorum parameters (writes only; reads are governed by admission).
	N int // replication factor
	W int // write quorum
	R int // read quorum; not used by the read path, which admits against N replicas
}

// NewReplicator creates a Replicator and wires its read path through a
// fresh admission subsystem: one score Registry, one Admitter, one
// reply Ingress, and a lazily-populated per-group Gate registry. N, W, R
// must satisfy W+R > N for strong consistency on the write side.
//
// scoreSort controls whether the snitch reorders each key's replicas by
// adaptive badness score (the "adaptive" strategy) or leaves hash-ring
// order untouched (the "default" strategy) — the admission subsystem
// itself still governs dispatch either way.
func NewReplicator(selfID string, m *Membership, s *store.Store, n, w, r int, cubicCfg ratelimit.CubicConfig, scoreAlpha float64, scoreSort bool, log *zap.SugaredLogger) *Replicator {
	rep := &Replicator{
		selfID:     selfID,
		membership: m,
		store:      s,
		N:          n,
		W:          w,
		R:          r,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		scores:     registry.New(cubicCfg, scoreAlpha),
		log:        log,
	}
	snitch := newSnitch(m, rep.scores, n, scoreSort)
	rep.admitter = admission.NewAdmitter(rep.scores, snitch, rep, endpoint.ID(selfID), log)
	rep.ingress = admission.NewIngress(rep.scores, log)
	rep.gates = gate.NewRegistry(rep.admitter)
	return rep
}

// Scores exposes the score registry for introspection endpoints.
func (rep *Replicator) Scores() *registry.Registry { return rep.scores }

// Close stops every gate goroutine this Replicator owns. Call during
// shutdown.
func (rep *Replicator) Close() {
	rep.gates.StopAll()
}

// ─── Write path ───────────────────────────────────────────────────────────────

// ReplicateWrite writes to W nodes and returns the final stored Value.
func (rep *Replicator) ReplicateWrite(key, data string, clock store.VectorClock) (store.Value, error) {
	// Write locally first — coordinator always participates.
	val, err := rep.store.Put(key, data, clock)
	if err != nil {
		return store.Value{}, fmt.Errorf("local write: %w", err)
	}

	replicas := rep.membership.ReplicaNodes(key, rep.N)
	peers := rep.peersOnly(replicas) // exclude self

	type result struct {
		nodeID string
		err    error
	}
	results := make(chan result, len(peers))

	for _, peer := range peers {
		go func(p *Node) {
			err := rep.sendReplicateRequest(p, key, val)
			results <- result{p.ID, err}
		}(peer)
	}

	// Collect until we reach write quorum (W-1 peers since we already have self).
	acks := 1 // self counts as one ack
	required := rep.W
	var errs []error

	timeout := time.After(5 * time.Second)
	remaining := len(peers)

	for remaining > 0 {
		select {
		case r := <-results:
			remaining--
			if r.err == nil {
				acks++
				if acks >= required {
					return val, nil // quorum reached
				}
			} else {
				errs = append(errs, fmt.Errorf("node %s: %w", r.nodeID, r.err))
			}
		case <-timeout:
			if acks >= required {
				return val, nil
			}
			return store.Value{}, fmt.Errorf("write quorum timeout (%d/%d acks), errors: %v", acks, required, errs)
		}
	}

	if acks >= required {
		return val, nil
	}
	return store.Value{}, fmt.Errorf("write quorum not met (%d/%d), errors: %v", acks, required, errs)
}

// ─── Read path ────────────────────────────────────────────────────────────────

// readOutcome is the attachment a CoordinateRead call stashes on its
// admission.ReadRequest so the Dispatcher side (DispatchData /
// DispatchDigest, running on their own goroutines) has somewhere to
// deliver what they found. admission never looks inside it.
type readOutcome struct {
	mu      sync.Mutex
	done    bool
	value   *store.Value
	err     error
	digests map[endpoint.ID]string
}

// CoordinateRead resolves a read through the admission subsystem: the
// request is submitted to the replica group's Gate, which either
// dispatches it immediately or defers it until a replica's send budget
// frees up. Exactly one replica is asked for the full value; the rest
// are asked for a digest so a mismatch can trigger async repair.
func (rep *Replicator) CoordinateRead(ctx context.Context, key string) (*store.Value, error) {
	rs := &readOutcome{digests: make(map[endpoint.ID]string)}
	done := make(chan struct{})
	var closeOnce sync.Once

	req := admission.NewReadRequest(key, "", rep.N, func(_ endpoint.ID, err error) {
		rs.mu.Lock()
		if err != nil && rs.err == nil {
			rs.err = err
		}
		rs.mu.Unlock()
		closeOnce.Do(func() { close(done) })
	})
	req.Attachment = rs

	g := rep.gates.GetOrCreate(context.Background(), rep.primaryGroup(key))
	g.Submit(req)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		req.Cancel()
		return nil, fmt.Errorf("read timeout for key %s", key)
	case <-ctx.Done():
		req.Cancel()
		return nil, ctx.Err()
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.err != nil {
		return nil, rs.err
	}
	if rs.value == nil || rs.value.Tombstone {
		return nil, nil
	}
	return rs.value, nil
}

// primaryGroup names the replica group a key belongs to for gate
// purposes: the hash ring's unadjusted first owner. Score-based
// reordering changes which replica gets the data request, not which
// physical group serializes admission for the key, so the gate key must
// stay independent of the adaptive ordering.
func (rep *Replicator) primaryGroup(key string) string {
	ids := rep.membership.Ring().GetNodes(key, 1)
	if len(ids) == 0 {
		return key
	}
	return ids[0]
}

// ─── admission.Dispatcher ──────────────────────────────────────────────────────

// DispatchData fetches the full value from target and resolves the
// ReadRequest once it has it (or has failed to get it).
func (rep *Replicator) DispatchData(ctx context.Context, target endpoint.ID, req *admission.ReadRequest) {
	go rep.dispatch(ctx, target, req, true)
}

// DispatchDigest fetches only a content hash from target, used to
// detect whether it has fallen behind the data reply.
func (rep *Replicator) DispatchDigest(ctx context.Context, target endpoint.ID, req *admission.ReadRequest) {
	go rep.dispatch(ctx, target, req, false)
}

func (rep *Replicator) dispatch(ctx context.Context, target endpoint.ID, req *admission.ReadRequest, isData bool) {
	start := time.Now()

	var (
		val     *store.Value
		metrics store.ReadMetrics
		digest  string
		found   bool
		err     error
	)

	if string(target) == rep.selfID {
		if isData {
			var v store.Value
			v, metrics, found = rep.store.GetWithMetrics(req.Key)
			if found {
				val = &v
				digest = sha256Hex(v.Data)
			}
		} else {
			v, m, ok := rep.store.GetWithMetrics(req.Key)
			metrics = m
			if ok {
				found = true
				digest = sha256Hex(v.Data)
			}
		}
	} else {
		node, ok := rep.membership.GetNode(string(target))
		if !ok {
			err = fmt.Errorf("unknown endpoint %s", target)
		} else if isData {
			val, metrics, found, err = rep.fetchDataFromPeer(node, req.Key)
			if found && val != nil {
				digest = sha256Hex(val.Data)
			}
		} else {
			digest, metrics, found, err = rep.fetchDigestFromPeer(node, req.Key)
		}
	}

	latency := time.Since(start).Nanoseconds()

	if err != nil {
		rep.ingress.OnMissingMetric(target)
	} else {
		rep.ingress.OnReply(target, metrics.QueueDepth, metrics.ServiceTimeNs, latency)
	}

	rs, ok := req.Attachment.(*readOutcome)
	if !ok || rs == nil {
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if isData {
		if err == nil && found && !rs.done {
			rs.value = val
		}
		if !rs.done {
			rs.done = true
			req.Complete(target, nil)
		}
		if rs.value != nil {
			winner := sha256Hex(rs.value.Data)
			for ep, dg := range rs.digests {
				if dg != winner {
					go rep.repairEndpoint(ep, req.Key, *rs.value)
				}
			}
		}
		return
	}

	if err == nil && found {
		rs.digests[target] = digest
		if rs.value != nil && digest != sha256Hex(rs.value.Data) {
			go rep.repairEndpoint(target, req.Key, *rs.value)
		}
	}
}

func (rep *Replicator) repairEndpoint(target endpoint.ID, key string, val store.Value) {
	node, ok := rep.membership.GetNode(string(target))
	if !ok {
		return
	}
	_ = rep.sendReplicateRequest(node, key, val) // best-effort
}

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// DigestOf computes the content hash used for digest requests/replies.
func DigestOf(data string) string {
	return sha256Hex(data)
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// ReplicateRequest is the wire format for replication messages.
type ReplicateRequest struct {
	Key   string      `json:"key"`
	Value store.Value `json:"value"`
}

// FetchResponse is the wire format for a full-value internal fetch,
// carrying the replica's local queue/service-time metrics alongside the
// value so the coordinator can feed them straight into MetricsIngress.
type FetchResponse struct {
	Value   store.Value       `json:"value"`
	Found   bool               `json:"found"`
	Metrics store.ReadMetrics `json:"metrics"`
}

// DigestResponse is the wire format for a cheap digest-only internal
// read: a content hash plus the same piggybacked metrics.
type DigestResponse struct {
	Digest  string            `json:"digest"`
	Found   bool               `json:"found"`
	Metrics store.ReadMetrics `json:"metrics"`
}

// sendReplicateRequest sends a value to a peer with exponential backoff retries.
//
// Why exponential backoff?  Thundering-herd prevention.  If a node is briefly
// overloaded and all peers hammer it with retries simultaneously, each retry
// makes the overload worse.  Doubling the delay spreads the load; the delays
// are fixed, with no random jitter added.
func (rep *Replicator) sendReplicateRequest(peer *Node, key string, val store.Value) error {
	body := ReplicateRequest{Key: key, Value: val}

	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// Backoff: 100ms before the second attempt, 200ms before the third.
			delay := time.Duration(math.Pow(2, float64(attempt-1))*100) * time.Millisecond
			time.Sleep(delay)
		}

		err := rep.doHTTPReplicate(peer, body)
		if err == nil {
			return nil
		}

		if attempt == maxRetries-1 {
			return fmt.Errorf("replicate to %s after %d attempts: %w", peer.ID, maxRetries, err)
		}
	}
	return nil
}

func (rep *Replicator) doHTTPReplicate(peer *Node, body ReplicateRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/internal/replicate", peer.Address)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rep.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// fetchDataFromPeer GETs the full value from a peer node. A tombstoned key
// comes back as not found, like a key that was never written.
func (rep *Replicator) fetchDataFromPeer(peer *Node, key string) (*store.Value, store.ReadMetrics, bool, error) {
	url := fmt.Sprintf("http://%s/internal/fetch/%s", peer.Address, key)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, store.ReadMetrics{}, false, err
	}

	resp, err := rep.httpClient.Do(req)
	if err != nil {
		return nil, store.ReadMetrics{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, store.ReadMetrics{}, false, fmt.Errorf("peer returned HTTP %d", resp.StatusCode)
	}

	var fr FetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, store.ReadMetrics{}, false, err
	}
	if !fr.Found {
		return nil, fr.Metrics, false, nil
	}
	return &fr.Value, fr.Metrics, true, nil
}

// fetchDigestFromPeer GETs a content hash of a key from a peer node,
// without transferring the value itself.
func (rep *Replicator) fetchDigestFromPeer(peer *Node, key string) (string, store.ReadMetrics, bool, error) {
	url := fmt.Sprintf("http://%s/internal/digest/%s", peer.Address, key)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", store.ReadMetrics{}, false, err
	}

	resp, err := rep.httpClient.Do(req)
	if err != nil {
		return "", store.ReadMetrics{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", store.ReadMetrics{}, false, fmt.Errorf("peer returned HTTP %d", resp.StatusCode)
	}

	var dr DigestResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", store.ReadMetrics{}, false, err
	}
	return dr.Digest, dr.Metrics, dr.Found, nil
}

// peersOnly filters the replica list to exclude self.
func (rep *Replicator) peersOnly(nodes []*Node) []*Node {
	var peers []*Node
	for _, n := range nodes {
		if n.ID != rep.selfID {
			peers = append(peers, n)
		}
	}
	return peers
}

// DeleteReplicated replicates a delete (tombstone) to W nodes.
func (rep *Replicator) DeleteReplicated(key string) error {
	if err := rep.store.Delete(key); err != nil {
		return err
	}
	val, _ := rep.store.GetRaw(key) // tombstone value

	replicas := rep.membership.ReplicaNodes(key, rep.N)
	peers := rep.peersOnly(replicas)

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(p *Node) {
			defer wg.Done()
			_ = rep.sendReplicateRequest(p, key, val)
		}(peer)
	}
	wg.Wait()
	return nil
}

// cmd/server is the main entrypoint for a KV store node.
//
// Configuration is entirely via flags so a single binary can
// serve any role in the cluster.
//
// Example — single node:
//
//	./server --id node1 --addr :8080 --data-dir /var/kvstore/node1
//
// Example — 3-node cluster:
//
//	./server --id node1 --addr :8080 --data-dir /tmp/n1 \
//	         --peers node2=localhost:8081,node3=localhost:8082
//	./server --id node2 --addr :8081 --data-dir /tmp/n2 \
//	         --peers node1=localhost:8080,node3=localhost:8082
//	./server --id node3 --addr :8082 --data-dir /tmp/n3 \
//	         --peers node1=localhost:8080,node2=localhost:8081
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"distributed-kvstore/internal/api"
	"distributed-kvstore/internal/cluster"
	"distributed-kvstore/internal/ratelimit"
	"distributed-kvstore/internal/store"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	nodeID := flag.String("id", "node1", "Unique node identifier")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/kvstore", "Directory for WAL and snapshots")
	peersFlag := flag.String("peers", "", "Comma-separated list of peer nodes: id=host:port")
	replicationN := flag.Int("n", 3, "Replication factor (N)")
	writeQuorum := flag.Int("w", 2, "Write quorum (W)")
	readQuorum := flag.Int("r", 2, "Read quorum (R)")

	strategy := flag.String("strategy", "adaptive", `Replica selection strategy: "adaptive" (default) or "default" (snitch order only, no admission control)`)
	rateIntervalMs := flag.Int64("rate-interval-ms", 20, "CUBIC rate-controller interval in milliseconds")
	rateMaxTokens := flag.Float64("rate-limiter-max-tokens", 200, "Maximum token-bucket balance per endpoint")
	cubicBeta := flag.Float64("cubic-beta", 0.2, "CUBIC multiplicative-decrease factor on overshoot")
	cubicC := flag.Float64("cubic-c", 4e-6, "CUBIC window-growth constant")
	cubicSMax := flag.Float64("cubic-smax", 10, "CUBIC maximum per-step rate increase")
	cubicHysteresis := flag.Float64("cubic-hysteresis-factor", 4, "Multiple of rate-interval used as the CUBIC decrease hysteresis window")
	scoreAlpha := flag.Float64("score-alpha", 0.9, "EWMA smoothing factor for per-endpoint score trackers")

	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	// ConfigurationError: invalid flag combinations are caught before
	// anything is built, and reported the same way the original quorum
	// check always has — a fatal log, never a panic.
	if *writeQuorum+*readQuorum <= *replicationN {
		log.Fatalf("configuration error: W(%d) + R(%d) must be > N(%d) for strong consistency",
			*writeQuorum, *readQuorum, *replicationN)
	}
	if *strategy != "adaptive" && *strategy != "default" {
		log.Fatalf("configuration error: unknown strategy %q, want \"adaptive\" or \"default\"", *strategy)
	}

	// ── Storage ────────────────────────────────────────────────────────────
	nodeDataDir := fmt.Sprintf("%s/%s", *dataDir, *nodeID)
	s, err := store.New(nodeDataDir, *nodeID)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer s.Close()

	// ── Cluster membership ─────────────────────────────────────────────────
	// Always add self to the membership list.
	selfNode := cluster.Node{ID: *nodeID, Address: *addr}
	nodes := []cluster.Node{selfNode}

	if *peersFlag != "" {
		for _, entry := range strings.Split(*peersFlag, ",") {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				log.Fatalf("configuration error: invalid peer format %q: expected id=host:port", entry)
			}
			nodes = append(nodes, cluster.Node{ID: parts[0], Address: parts[1]})
		}
	}

	membership := cluster.NewMembership(nodes, 150)

	// ── Replicator ─────────────────────────────────────────────────────────
	// If there are fewer nodes than N, cap quorum to avoid deadlock.
	n := min(*replicationN, membership.Ring().NodeCount())
	w := min(*writeQuorum, n)
	r := min(*readQuorum, n)

	cubicCfg := ratelimit.CubicConfig{
		RateIntervalMs:   *rateIntervalMs,
		MaxTokens:        *rateMaxTokens,
		Beta:             *cubicBeta,
		C:                *cubicC,
		SMax:             *cubicSMax,
		HysteresisFactor: *cubicHysteresis,
	}
	scoreSort := *strategy == "adaptive"
	if *strategy == "default" {
		// The default strategy still runs the admission subsystem for
		// dispatch/budget bookkeeping, but a beta of 1 and an effectively
		// unlimited token balance make TryAcquire always grant instantly.
		// Turning scoreSort off too keeps replica order exactly the
		// snitch's hash-ring order, so this strategy never reorders
		// replicas by adaptive score.
		cubicCfg.Beta = 1
		cubicCfg.MaxTokens = 1e9
	}

	replicator := cluster.NewReplicator(*nodeID, membership, s, n, w, r, cubicCfg, *scoreAlpha, scoreSort, log)
	defer replicator.Close()

	// ── HTTP server ────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(log), api.Recovery(log))

	handler := api.NewHandler(s, replicator, membership, *nodeID)
	handler.Register(router)

	// Health check endpoint — useful for load balancers and readiness probes.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node":   *nodeID,
			"status": "ok",
			"nodes":  membership.Ring().NodeCount(),
		})
	})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────
	// Listen for SIGINT/SIGTERM and give in-flight requests 15s to complete.
	go func() {
		log.Infow("node listening", "node", *nodeID, "addr", *addr, "n", n, "w", w, "r", r, "strategy", *strategy)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Background snapshot every 60 seconds.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := s.Snapshot(); err != nil {
				log.Errorw("snapshot failed", "err", err)
			} else {
				log.Debugw("snapshot saved")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down", "node", *nodeID)

	// Take a final snapshot before exiting.
	if err := s.Snapshot(); err != nil {
		log.Errorw("final snapshot failed", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server shutdown error", "err", err)
	}
}

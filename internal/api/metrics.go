package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"distributed-kvstore/internal/metrics"
)

// registerMetrics mounts a Prometheus scrape endpoint backed by the
// replicator's score Registry. A dedicated registry (rather than the
// global default) keeps metrics scoped to this node's own admission
// state, since each process in the cluster runs its own Handler.
func (h *Handler) registerMetrics(r *gin.Engine) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(h.replicator.Scores()))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
}

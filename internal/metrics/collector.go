// Package metrics exposes the admission subsystem's per-endpoint state
// as Prometheus gauges, grounded on the client_golang custom-Collector
// pattern: rather than updating a fixed set of metrics eagerly, Collect
// is called by the scrape handler itself and reads straight from the
// live score Registry, so the exported set of endpoint label values
// always matches whatever the registry currently knows about.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"distributed-kvstore/internal/registry"
)

const namespace = "kvstore_admission"

// Collector implements prometheus.Collector over a registry.Registry.
type Collector struct {
	reg *registry.Registry

	pending     *prometheus.Desc
	sendRate    *prometheus.Desc
	receiveRate *prometheus.Desc
	score       *prometheus.Desc
}

// NewCollector builds a Collector reading from reg.
func NewCollector(reg *registry.Registry) *Collector {
	labels := []string{"endpoint"}
	return &Collector{
		reg: reg,
		pending: prometheus.NewDesc(
			namespace+"_pending_requests", "In-flight requests dispatched to this endpoint.", labels, nil),
		sendRate: prometheus.NewDesc(
			namespace+"_send_rate", "Current SendLimiter token rate for this endpoint.", labels, nil),
		receiveRate: prometheus.NewDesc(
			namespace+"_receive_rate", "Current EWMA reply-arrival rate for this endpoint.", labels, nil),
		score: prometheus.NewDesc(
			namespace+"_score", "Current badness score for this endpoint, lower is better.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pending
	ch <- c.sendRate
	ch <- c.receiveRate
	ch <- c.score
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ids := c.reg.Snapshot()
	n := len(ids)

	for _, id := range ids {
		e, ok := c.reg.Get(id)
		if !ok {
			continue
		}
		label := string(id)
		pending := e.Pending.Load()

		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(pending), label)
		ch <- prometheus.MustNewConstMetric(c.sendRate, prometheus.GaugeValue, e.Rate.Limiter.Rate(), label)
		ch <- prometheus.MustNewConstMetric(c.receiveRate, prometheus.GaugeValue, e.Rate.Receive.CurrentRate(), label)
		ch <- prometheus.MustNewConstMetric(c.score, prometheus.GaugeValue, e.Score.Score(n, pending), label)
	}
}

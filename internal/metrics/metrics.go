// Package metrics exposes Prometheus counters and histograms for the
// spam pipeline: sent/landed/reverted/timeout counts and confirmation
// latency, grounded on the teacher's promauto-registration idiom
// (internal/metrics.NewPrometheusMetrics) but re-scoped from dashboard
// TestRun metrics to the outcome vocabulary of spec.md §7's run
// summary ("N sent, M landed, K reverted, R timed-out").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus instruments for one process. A
// single Collector is shared by every run's Spammer/TxActor pair,
// labeled by scenario name so multiple concurrent runs (a campaign's
// stage mix) don't collide.
type Collector struct {
	sent     *prometheus.CounterVec
	landed   *prometheus.CounterVec
	reverted *prometheus.CounterVec
	timedOut *prometheus.CounterVec
	lag      *prometheus.CounterVec
	rejected *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

// NewCollector registers the spam-pipeline instruments against reg.
// Pass nil to use prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contender_tx_sent_total",
			Help: "Transactions successfully submitted to the RPC endpoint.",
		}, []string{"scenario"}),
		landed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contender_tx_landed_total",
			Help: "Transactions observed with a successful receipt.",
		}, []string{"scenario"}),
		reverted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contender_tx_reverted_total",
			Help: "Transactions observed with a reverted receipt.",
		}, []string{"scenario"}),
		timedOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contender_tx_timeout_total",
			Help: "Transactions evicted from the pending cache without a receipt.",
		}, []string{"scenario"}),
		lag: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contender_spammer_lagged_ticks_total",
			Help: "TimedSpammer ticks that fired late because the previous dispatch overran its period.",
		}, []string{"scenario"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contender_sender_rejected_total",
			Help: "Sends rejected because the sender was at its concurrency cap.",
		}, []string{"scenario"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contender_tx_confirm_latency_seconds",
			Help:    "Time from dispatch to receipt.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"scenario"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contender_tx_pending",
			Help: "Transactions dispatched but not yet resolved.",
		}, []string{"scenario"}),
	}
}

func (c *Collector) RecordSent(scenario string)     { c.sent.WithLabelValues(scenario).Inc() }
func (c *Collector) RecordLanded(scenario string)   { c.landed.WithLabelValues(scenario).Inc() }
func (c *Collector) RecordReverted(scenario string) { c.reverted.WithLabelValues(scenario).Inc() }
func (c *Collector) RecordTimeout(scenario string)  { c.timedOut.WithLabelValues(scenario).Inc() }
func (c *Collector) RecordLaggedTick(scenario string) {
	c.lag.WithLabelValues(scenario).Inc()
}

func (c *Collector) RecordSendRejected(scenario string) {
	c.rejected.WithLabelValues(scenario).Inc()
}

func (c *Collector) ObserveLatencySeconds(scenario string, seconds float64) {
	c.latency.WithLabelValues(scenario).Observe(seconds)
}

func (c *Collector) SetPending(scenario string, n int) {
	c.inFlight.WithLabelValues(scenario).Set(float64(n))
}

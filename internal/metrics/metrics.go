// Package metrics defines Graphix's Prometheus instrumentation (spec §6.5).
// Registration follows defistate's differ.StateDifferConfig convention: a
// prometheus.Registerer is handed in by the caller and a constructor builds
// and registers every collector up front, never lazily.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the Poller and DivergenceInvestigator emit
// into.
type Metrics struct {
	indexingStatusesRequests prometheus.CounterVec
	publicPoisRequests       prometheus.CounterVec
	poolSize                 prometheus.Gauge
	roundDuration            prometheus.Histogram
	bisectionRequests        prometheus.CounterVec
}

// NewMetrics builds and registers every collector against reg. Registering
// the same collector twice panics, matching prometheus/client_golang's own
// behavior; callers must construct exactly one Metrics per registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		indexingStatusesRequests: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexing_statuses_requests",
			Help: "Count of indexingStatuses calls against an indexer, partitioned by outcome.",
		}, []string{"indexer", "success"}),
		publicPoisRequests: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "public_proofs_of_indexing_requests",
			Help: "Count of publicProofsOfIndexing calls, partitioned by outcome.",
		}, []string{"indexer", "success"}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphix_indexer_pool_size",
			Help: "Number of distinct indexers in the resolved pool for the most recent round.",
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphix_poller_round_duration_seconds",
			Help:    "Wall-clock duration of a complete Poller round.",
			Buckets: prometheus.DefBuckets,
		}),
		bisectionRequests: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphix_bisection_requests",
			Help: "Count of per-step bisection PoI requests, partitioned by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		&m.indexingStatusesRequests,
		&m.publicPoisRequests,
		m.poolSize,
		m.roundDuration,
		&m.bisectionRequests,
	)
	return m
}

func (m *Metrics) ObserveIndexingStatusesRequest(indexer string, success bool) {
	m.indexingStatusesRequests.WithLabelValues(indexer, boolLabel(success)).Inc()
}

func (m *Metrics) ObservePublicPoisRequest(indexer string, success bool) {
	m.publicPoisRequests.WithLabelValues(indexer, boolLabel(success)).Inc()
}

func (m *Metrics) SetPoolSize(n int) {
	m.poolSize.Set(float64(n))
}

// NewRoundTimer starts a timer; call ObserveDuration on the result when the
// round finishes.
func (m *Metrics) NewRoundTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.roundDuration)
}

func (m *Metrics) ObserveBisectionRequest(outcome string) {
	m.bisectionRequests.WithLabelValues(outcome).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

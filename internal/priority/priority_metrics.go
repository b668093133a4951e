package priority

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the prioritization engine.
type Metrics struct {
	AlertsPrioritized *prometheus.CounterVec
	ClustersTotal     *prometheus.CounterVec
	ClusterSize       prometheus.Histogram
}

// NewMetrics registers and returns engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsPrioritized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lookout_alerts_prioritized_total",
			Help: "Total alerts prioritized by resulting priority level.",
		}, []string{"level"}),
		ClustersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lookout_clusters_total",
			Help: "Total alert clusters formed by category.",
		}, []string{"category"}),
		ClusterSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lookout_cluster_size",
			Help:    "Number of alerts per cluster.",
			Buckets: prometheus.ExponentialBuckets(2, 2, 7), // 2 .. 128
		}),
	}

	reg.MustRegister(
		m.AlertsPrioritized,
		m.ClustersTotal,
		m.ClusterSize,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnPrioritized: func(level Level) {
			m.AlertsPrioritized.WithLabelValues(string(level)).Inc()
		},
		OnCluster: func(category Category, size int) {
			m.ClustersTotal.WithLabelValues(string(category)).Inc()
			m.ClusterSize.Observe(float64(size))
		},
	}
}

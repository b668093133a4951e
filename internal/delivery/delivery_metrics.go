package delivery

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the delivery subsystem.
type Metrics struct {
	SubmitsTotal       *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	NotifyDuration     *prometheus.HistogramVec
	DispatchLag        prometheus.Histogram
	FlushedTotal       prometheus.Counter
}

// NewMetrics registers and returns delivery metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lookout_submits_total",
			Help: "Total submitted alerts by result.",
		}, []string{"result"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lookout_notifications_total",
			Help: "Total notifications by channel, kind and outcome.",
		}, []string{"channel", "kind", "outcome"}),
		NotifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lookout_notify_duration_seconds",
			Help:    "Duration of individual notifier calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}, []string{"channel"}),
		DispatchLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lookout_dispatch_lag_seconds",
			Help:    "Delay between a delivery's scheduled time and its dispatch.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10), // 0.1s .. ~7h
		}),
		FlushedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lookout_queue_flushed_total",
			Help: "Total scheduled deliveries released from the queue.",
		}),
	}

	reg.MustRegister(
		m.SubmitsTotal,
		m.NotificationsTotal,
		m.NotifyDuration,
		m.DispatchLag,
		m.FlushedTotal,
	)

	return m
}

// ServiceHooks are optional callbacks fired by the Service. Nil fields are skipped.
type ServiceHooks struct {
	OnSubmit   func(result string)
	OnNotify   func(channel, kind string, ok bool, duration float64)
	OnDispatch func(lag float64)
	OnFlush    func(n int)
}

// Hooks returns a ServiceHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() ServiceHooks {
	return ServiceHooks{
		OnSubmit: func(result string) {
			m.SubmitsTotal.WithLabelValues(result).Inc()
		},
		OnNotify: func(channel, kind string, ok bool, duration float64) {
			outcome := "success"
			if !ok {
				outcome = "error"
			}
			m.NotificationsTotal.WithLabelValues(channel, kind, outcome).Inc()
			m.NotifyDuration.WithLabelValues(channel).Observe(duration)
		},
		OnDispatch: func(lag float64) {
			m.DispatchLag.Observe(lag)
		},
		OnFlush: func(n int) {
			m.FlushedTotal.Add(float64(n))
		},
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ItemsIndexed     *prometheus.CounterVec
	ItemsFailed      *prometheus.CounterVec
	DispatchLatency  *prometheus.HistogramVec
	LeasesReleased   prometheus.Counter
	ItemsClaimed     prometheus.Counter
	WorkQueueFirst   prometheus.Gauge
	WorkQueueRefresh prometheus.Gauge
}

// New registers all instruments with reg. A custom registry keeps tests
// isolated from global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "index_queue_items_indexed_total",
			Help: "Total number of queue items indexed successfully.",
		}, []string{"configuration"}),

		ItemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "index_queue_items_failed_total",
			Help: "Total number of queue items whose dispatch failed, by failure reason.",
		}, []string{"configuration", "reason"}),

		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "index_queue_dispatch_seconds",
			Help:    "Latency from dequeue to recorded outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"configuration"}),

		LeasesReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "index_queue_expired_leases_released_total",
			Help: "Total number of expired leases cleared by the reaper.",
		}),
		ItemsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "index_queue_items_claimed_total",
			Help: "Total number of items claimed by the scheduler.",
		}),

		WorkQueueFirst: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "index_queue_work_queue_first_depth",
			Help: "Never-indexed items waiting for a worker.",
		}),
		WorkQueueRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "index_queue_work_queue_refresh_depth",
			Help: "Changed items waiting for a worker.",
		}),
	}

	reg.MustRegister(
		m.ItemsIndexed,
		m.ItemsFailed,
		m.DispatchLatency,
		m.LeasesReleased,
		m.ItemsClaimed,
		m.WorkQueueFirst,
		m.WorkQueueRefresh,
	)

	return m
}

// WorkerHooks returns the callbacks expected by worker.MetricHooks so the
// worker package stays free of prometheus imports.
func (m *Metrics) WorkerHooks() (
	onIndexed func(configuration string, latency time.Duration),
	onFailed func(configuration, reason string, latency time.Duration),
) {
	onIndexed = func(cfg string, latency time.Duration) {
		m.ItemsIndexed.WithLabelValues(cfg).Inc()
		m.DispatchLatency.WithLabelValues(cfg).Observe(latency.Seconds())
	}
	onFailed = func(cfg, reason string, latency time.Duration) {
		m.ItemsFailed.WithLabelValues(cfg, reason).Inc()
		m.DispatchLatency.WithLabelValues(cfg).Observe(latency.Seconds())
	}
	return
}

// SetWorkQueueDepths records the current work queue depths.
func (m *Metrics) SetWorkQueueDepths(first, refresh int) {
	m.WorkQueueFirst.Set(float64(first))
	m.WorkQueueRefresh.Set(float64(refresh))
}

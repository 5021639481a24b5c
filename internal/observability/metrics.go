package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the dashboard.
type Metrics struct {
	FeedSubscribers    prometheus.Gauge
	BroadcastsDropped  prometheus.Counter
	SnapshotsComputed  *prometheus.CounterVec
	SnapshotLatency    prometheus.Histogram
	TaskMutations      *prometheus.CounterVec
	SendOutcomes       *prometheus.CounterVec
	CollaboratorErrors *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		FeedSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscribers",
			Help:      "Number of connected live feed subscribers.",
		}),
		BroadcastsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_broadcasts_dropped_total",
			Help:      "Subscribers dropped because their delivery buffer was full.",
		}),
		SnapshotsComputed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_computed_total",
			Help:      "Status snapshots computed, by trigger.",
		}, []string{"trigger"}),
		SnapshotLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_compute_ms",
			Help:      "Time spent computing a status snapshot in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		TaskMutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_mutations_total",
			Help:      "Task registry mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		SendOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_sends_total",
			Help:      "Per-group broadcast send outcomes.",
		}, []string{"outcome"}),
		CollaboratorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_errors_total",
			Help:      "Collaborator failures absorbed during aggregation.",
		}, []string{"collaborator"}),
	}
}

func (m *Metrics) ObserveSnapshotLatency(d time.Duration) {
	m.SnapshotLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

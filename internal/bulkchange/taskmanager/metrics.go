package taskmanager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsPrefix = "bulkchange_"

type Metrics struct {
	submitted    *prometheus.CounterVec
	deduplicated *prometheus.CounterVec
	rejected     prometheus.Counter
	failed       *prometheus.CounterVec
	entityErrors *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	live         prometheus.Gauge
}

// NewMetrics creates the task manager metrics and registers them with registerer, if it isn't nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		submitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricsPrefix + "tasks_submitted_total",
				Help: "Number of bulk operations submitted",
			},
			[]string{"operation"},
		),
		deduplicated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricsPrefix + "tasks_deduplicated_total",
				Help: "Number of submissions answered with an already running bulk operation",
			},
			[]string{"operation"},
		),
		rejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: MetricsPrefix + "tasks_rejected_total",
				Help: "Number of bulk operations rejected because the queue was full",
			},
		),
		failed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricsPrefix + "tasks_failed_total",
				Help: "Number of bulk operations terminated by an unexpected error",
			},
			[]string{"operation"},
		),
		entityErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricsPrefix + "entity_errors_total",
				Help: "Number of issues a bulk operation failed to change",
			},
			[]string{"operation"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricsPrefix + "task_duration_seconds",
				Help:    "Time taken to run a bulk operation",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
			},
			[]string{"operation"},
		),
		live: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricsPrefix + "tasks_live",
				Help: "Number of bulk operations queued or running",
			},
		),
	}
}

func (m *Metrics) RecordSubmitted(operation string) {
	m.submitted.WithLabelValues(operation).Inc()
	m.live.Inc()
}

func (m *Metrics) RecordDeduplicated(operation string) {
	m.deduplicated.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordRejected() {
	m.rejected.Inc()
	m.live.Dec()
}

func (m *Metrics) RecordFinished(operation string, duration time.Duration, entityErrors int, failed bool) {
	m.live.Dec()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
	m.entityErrors.WithLabelValues(operation).Add(float64(entityErrors))
	if failed {
		m.failed.WithLabelValues(operation).Inc()
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the platform-wide instruments. Components receive it by
// injection and tolerate nil so tests can skip registration.
type Metrics struct {
	EventsCommitted      prometheus.Counter
	ConcurrencyConflicts prometheus.Counter
	RelayDelivered       prometheus.Counter
	RelayFailures        prometheus.Counter
	SagaDuplicates       prometheus.Counter
	ProjectionConflicts  prometheus.Counter
	AllocationRetries    prometheus.Counter
	SweepPurged          prometheus.Counter
	CommandDuration      prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		EventsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zx_events_committed_total",
			Help: "Total number of domain events committed to the event store",
		}),
		ConcurrencyConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zx_concurrency_conflicts_total",
			Help: "Total number of optimistic concurrency failures on append",
		}),
		RelayDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zx_relay_delivered_total",
			Help: "Total number of envelopes relayed to the in-process bus",
		}),
		RelayFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zx_relay_failures_total",
			Help: "Total number of relay deliveries that failed and will be redelivered",
		}),
		SagaDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zx_saga_duplicates_skipped_total",
			Help: "Total number of redelivered events skipped by saga idempotency markers",
		}),
		ProjectionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zx_projection_conflicts_total",
			Help: "Total number of conditional view commits lost to a concurrent writer",
		}),
		AllocationRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zx_allocation_retries_total",
			Help: "Total number of stock allocation retries after a version conflict",
		}),
		SweepPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zx_sweep_purged_total",
			Help: "Total number of expired kv records purged by the sweep worker",
		}),
		CommandDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "zx_command_duration_seconds",
			Help:    "Duration of command bus executions",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

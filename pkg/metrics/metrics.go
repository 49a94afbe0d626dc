package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Sync endpoint metrics
	SyncBatches        *prometheus.CounterVec
	SyncOperations     *prometheus.CounterVec
	SyncBatchSize      prometheus.Histogram
	SyncLatency        prometheus.Histogram
	IdempotencyReplays prometheus.Counter
	SyncConflicts      *prometheus.CounterVec

	// Optimistic locking
	VersionConflicts *prometheus.CounterVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
	RequestTotal    *prometheus.CounterVec

	// Retention
	RowsPruned *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics on reg. Tests pass
// a fresh prometheus.NewRegistry() so repeated construction does not panic.
func NewMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_batches_total",
			Help:      "Sync batch requests by HTTP status",
		}, []string{"status"}),
		SyncOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_operations_total",
			Help:      "Sync operations by reported result",
		}, []string{"result"}),
		SyncBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_batch_size",
			Help:      "Number of operations per accepted sync batch",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 40, 50},
		}),
		SyncLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_batch_duration_seconds",
			Help:      "Time spent applying a sync batch",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		IdempotencyReplays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "idempotency_replays_total",
			Help:      "Requests answered from a stored idempotent response",
		}),
		SyncConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_conflicts_total",
			Help:      "Sync requests rejected with 409",
		}, []string{"kind"}),
		VersionConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "version_conflicts_total",
			Help:      "Optimistic lock failures by table",
		}, []string{"table"}),

		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),

		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "HTTP requests by status",
		}, []string{"method", "path", "status"}),

		RowsPruned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retention_rows_pruned_total",
			Help:      "Rows deleted by the retention worker",
		}, []string{"table"}),
	}
}

// NewNop returns metrics registered on a private registry.
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry(), "caresync", "test")
}

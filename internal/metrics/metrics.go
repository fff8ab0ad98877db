package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrel_events_total",
			Help: "Total number of events received",
		},
		[]string{"endpoint", "status"},
	)

	EventBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_event_bytes_total",
			Help: "Total bytes of event payload received",
		},
	)

	// Batcher metrics
	BatcherPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentrel_batcher_pending",
			Help: "Events currently buffered in the batcher",
		},
	)

	BatchFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_batch_flushes_total",
			Help: "Total number of batch flushes",
		},
	)

	BatchFlushSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentrel_batch_flush_size",
			Help:    "Number of documents per batch flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// Pipeline metrics
	TransformErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_transform_errors_total",
			Help: "Total number of events dropped during transformation",
		},
	)

	// Indexer metrics
	IndexDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentrel_index_duration_seconds",
			Help:    "Duration of OpenSearch write operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	IndexedDocuments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_indexed_documents_total",
			Help: "Total number of documents successfully indexed",
		},
	)

	IndexErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_index_errors_total",
			Help: "Total number of failed document writes",
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// Queue metrics
	QueuePublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_queue_published_total",
			Help: "Total number of events published to the distributed queue",
		},
	)

	QueueConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrel_queue_consumed_total",
			Help: "Total number of events consumed from the distributed queue",
		},
		[]string{"status"},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recsignal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recsignal_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Ingest metrics
	IngestBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recsignal_ingest_batches_total",
			Help: "Total number of metric batches submitted",
		},
		[]string{"source", "status"}, // status: committed, rejected, failed
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recsignal_ingest_batch_size",
			Help:    "Number of readings per committed batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	IngestBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recsignal_ingest_batch_duration_seconds",
			Help:    "Time to evaluate and commit one batch, lock wait included",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReadingsStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recsignal_readings_stored_total",
			Help: "Total number of readings committed",
		},
	)

	// Engine metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recsignal_evaluations_total",
			Help: "Committed reading evaluations by outcome",
		},
		[]string{"outcome"}, // no_threshold, ok, suppressed, created
	)

	AlertEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recsignal_alert_events_total",
			Help: "Alert lifecycle changes by type",
		},
		[]string{"type"},
	)

	TupleLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recsignal_tuple_lock_wait_seconds",
			Help:    "Time spent acquiring the tuple locks of a batch",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	// Live feed metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recsignal_stream_subscribers",
			Help: "Current number of alert stream subscribers",
		},
	)

	StreamDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recsignal_stream_dropped_events_total",
			Help: "Events dropped because a subscriber was too slow",
		},
	)

	// Kafka metrics
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recsignal_kafka_messages_total",
			Help: "Kafka messages consumed by result",
		},
		[]string{"result"}, // committed, invalid, failed
	)
)

// Package metrics holds the Prometheus collectors for ingestion and retrieval.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "webrag"

type Metrics struct {
	// Ingestion
	IngestionJobs       *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	ChunksCreated       prometheus.Counter
	EmbeddingMismatches prometheus.Counter
	UnembeddedChunks    prometheus.Counter

	// Queue
	QueueEnqueued *prometheus.CounterVec
	QueueDepth    prometheus.Gauge

	// Retrieval
	Queries           *prometheus.CounterVec
	RetrievedContexts prometheus.Histogram
	PromptTokens      prometheus.Histogram
}

// NewMetrics registers every collector on reg, or on the default registerer
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initIngestionMetrics(factory)
	m.initQueueMetrics(factory)
	m.initRetrievalMetrics(factory)

	return m
}

func (m *Metrics) initIngestionMetrics(factory promauto.Factory) {
	m.IngestionJobs = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingestion",
			Name:      "jobs_total",
			Help:      "Processed ingestion jobs by outcome",
		},
		[]string{"outcome"},
	)

	m.StageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "ingestion",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each ingestion stage in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"stage"},
	)

	m.ChunksCreated = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "ingestion",
		Name:      "chunks_created_total",
		Help:      "Chunks persisted by the ingestion pipeline",
	})

	m.EmbeddingMismatches = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "ingestion",
		Name:      "embedding_mismatch_total",
		Help:      "Jobs where the embedder returned a different number of vectors than chunks",
	})

	m.UnembeddedChunks = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "ingestion",
		Name:      "unembedded_chunks_total",
		Help:      "Chunks left without an embedding after a job finished",
	})
}

func (m *Metrics) initQueueMetrics(factory promauto.Factory) {
	m.QueueEnqueued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Enqueue attempts by result",
		},
		[]string{"result"},
	)

	m.QueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Last observed length of the ingestion queue",
	})
}

func (m *Metrics) initRetrievalMetrics(factory promauto.Factory) {
	m.Queries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Answered queries by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	m.RetrievedContexts = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "retrieval",
		Name:      "contexts",
		Help:      "Number of contexts passed to answer synthesis",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	})

	m.PromptTokens = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "retrieval",
		Name:      "prompt_tokens",
		Help:      "Token count of synthesis prompts",
		Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
	})
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, started time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

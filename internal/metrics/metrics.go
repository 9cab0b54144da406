// Package metrics holds the Prometheus collectors for the ingestion pipeline and retrieval.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lumina"

var (
	// StageDuration tracks how long one attempt of a pipeline stage takes.
	// Labels: stage, outcome (success, retry, failed)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stage attempts in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "outcome"},
	)

	// StageOutcomes counts stage attempts by result.
	// Labels: stage, outcome (success, retry, failed)
	StageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "stage_outcomes_total",
			Help:      "Total number of stage attempts by outcome",
		},
		[]string{"stage", "outcome"},
	)

	// RetriesScheduled counts automatic retries entered per stage.
	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "retries_scheduled_total",
			Help:      "Total number of automatic stage retries",
		},
		[]string{"stage"},
	)

	// DocumentsIndexed counts documents that reached INDEXED.
	DocumentsIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "documents_indexed_total",
			Help:      "Total number of documents indexed",
		},
	)

	// MetadataKeysDropped counts metadata keys dropped because the key library is full.
	MetadataKeysDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "keys_dropped_total",
			Help:      "Total number of metadata keys dropped at the cardinality cap",
		},
	)

	// SliceQueryDuration tracks per-slice query latency.
	// Labels: slice
	SliceQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "slice_query_duration_seconds",
			Help:      "Duration of retrieval slice queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"slice"},
	)

	// SliceFailures counts slice queries that failed or timed out.
	// Labels: slice
	SliceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "slice_failures_total",
			Help:      "Total number of failed retrieval slice queries",
		},
		[]string{"slice"},
	)

	// ImagesCaptioned counts caption pipeline runs by result.
	// Labels: result (indexed, failed)
	ImagesCaptioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "images",
			Name:      "captioned_total",
			Help:      "Total number of image caption pipeline runs",
		},
		[]string{"result"},
	)
)

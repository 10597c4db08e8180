// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IdentifyRequestsTotal tracks reconciliation requests by outcome
	IdentifyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "identify_requests_total",
			Help:      "Total number of identify requests by outcome",
		},
		[]string{"outcome"},
	)

	// IdentifyDuration tracks end-to-end reconciliation duration in seconds
	IdentifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "identify_duration_seconds",
			Help:      "Duration of identify requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// ClusterMergesTotal tracks how many cluster consolidations have run
	ClusterMergesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "cluster_merges_total",
			Help:      "Total number of cluster consolidations (two primaries collapsed into one)",
		},
	)

	// ClusterSize tracks the size of clusters returned by identify requests
	ClusterSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "cluster_size",
			Help:      "Number of contacts in the cluster returned by an identify request",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		},
	)

	// IngestMessagesTotal tracks Kafka ingestion results
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Total number of ingested contact messages by status",
		},
		[]string{"status"},
	)
)

// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BlockMergeDecisions counts merge decisions by action
	BlockMergeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proppy_block_merge_decisions_total",
		Help: "Block merge decisions by action",
	}, []string{"action"})

	SnapshotsFrozen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proppy_snapshots_frozen_total",
		Help: "Frozen snapshots created",
	})

	// SignaturesRecorded counts signing attempts by result
	SignaturesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proppy_signatures_total",
		Help: "Signing attempts by result",
	}, []string{"result"})

	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proppy_events_ingested_total",
		Help: "Engagement events by kind and outcome",
	}, []string{"kind", "outcome"})

	ReconstructDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proppy_analytics_reconstruct_duration_seconds",
		Help:    "Session reconstruction duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	// BackgroundFailures counts fire-and-forget failures by task
	BackgroundFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proppy_background_failures_total",
		Help: "Failed fire-and-forget tasks by task name",
	}, []string{"task"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

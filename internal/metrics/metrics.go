// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus collectors shared across the
// service. Collectors are registered at init time via promauto; callers
// record through the exported variables or the small helper functions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage outcomes recorded on StageDuration.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

var (
	// StageDuration tracks wall time per pipeline stage, labeled with the
	// stage name and outcome (completed, skipped, failed).
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stemsync_pipeline_stage_duration_seconds",
		Help:    "Pipeline stage wall time in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"stage", "outcome"})

	// StageFailures counts stage failures by stage name.
	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemsync_pipeline_stage_failures_total",
		Help: "Total pipeline stage failures",
	}, []string{"stage"})

	// PipelineRuns counts finished pipeline runs by outcome.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemsync_pipeline_runs_total",
		Help: "Total pipeline runs by outcome",
	}, []string{"outcome"})

	// ActivePipelines is the number of pipeline workers currently running.
	ActivePipelines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stemsync_pipeline_active",
		Help: "Number of pipeline workers currently running",
	})

	// ReconcileResumed counts tracks re-enqueued by startup reconciliation.
	ReconcileResumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stemsync_reconcile_resumed_total",
		Help: "Total incomplete tracks resumed at startup",
	})

	// FeedSubscribers is the number of live progress feed subscribers.
	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stemsync_feed_subscribers",
		Help: "Number of active progress feed subscribers",
	})

	feedDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemsync_feed_dropped_total",
		Help: "Total progress updates dropped by reason",
	}, []string{"reason"})

	// SearchCacheHits counts source search cache hits.
	SearchCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stemsync_search_cache_hits_total",
		Help: "Total source search cache hits",
	})

	// SearchCacheMisses counts source search cache misses.
	SearchCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stemsync_search_cache_misses_total",
		Help: "Total source search cache misses",
	})

	// ModelCalls counts hosted model predictions by model and outcome.
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemsync_model_calls_total",
		Help: "Total hosted model calls by model and outcome",
	}, []string{"model", "outcome"})

	// CreditsSpent counts credits deducted from user accounts by action.
	CreditsSpent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemsync_credits_spent_total",
		Help: "Total credits deducted by action",
	}, []string{"action"})
)

// ObserveStage records one stage execution.
func ObserveStage(stage, outcome string, d time.Duration) {
	if stage == "" || outcome == "" {
		return
	}
	StageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// IncFeedDrop records a dropped feed update. Reason must be non-empty.
func IncFeedDrop(reason string) {
	if reason == "" {
		return
	}
	feedDropsTotal.WithLabelValues(reason).Inc()
}

// Package observability holds the Prometheus metrics and OpenTelemetry
// tracing setup of the scoring pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Pipeline Metrics ───────────────────────────────────────────────────────

// ScoresComputed counts finished computations by terminal status.
var ScoresComputed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stampscore",
	Subsystem: "pipeline",
	Name:      "scores_total",
	Help:      "Total score computations by terminal status (DONE, ERROR).",
}, []string{"status"})

// ScoreFailures counts ERROR outcomes by error kind.
var ScoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stampscore",
	Subsystem: "pipeline",
	Name:      "failures_total",
	Help:      "Total failed computations by error kind.",
}, []string{"kind"})

// PipelineLatency tracks end-to-end scoring latency.
var PipelineLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "stampscore",
	Subsystem: "pipeline",
	Name:      "duration_seconds",
	Help:      "Scoring pipeline latency in seconds.",
	Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
}, []string{"mode"})

// StampOutcomes counts per-stamp outcomes (counted, banned, revoked ...).
var StampOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stampscore",
	Subsystem: "pipeline",
	Name:      "stamp_outcomes_total",
	Help:      "Total submitted stamps by outcome.",
}, []string{"outcome"})

// ─── Dedup Metrics ──────────────────────────────────────────────────────────

// DedupDecisions counts claim resolutions by policy and result.
var DedupDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stampscore",
	Subsystem: "dedup",
	Name:      "decisions_total",
	Help:      "Total fingerprint claims by policy and result.",
}, []string{"policy", "result"})

// LeaseWait tracks how long fingerprint and passport leases took to acquire.
var LeaseWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "stampscore",
	Subsystem: "dedup",
	Name:      "lease_wait_seconds",
	Help:      "Time spent waiting for a lease.",
	Buckets:   []float64{.0001, .001, .005, .01, .05, .1, .5, 1, 5},
}, []string{"kind"})

// ─── Rescore Metrics ────────────────────────────────────────────────────────

// RescoreAttempts counts batch rescoring results per passport.
var RescoreAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stampscore",
	Subsystem: "rescore",
	Name:      "passports_total",
	Help:      "Total passports processed by batch rescoring, by result.",
}, []string{"result"})

// RescoreRetries counts retried passport computations.
var RescoreRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "stampscore",
	Subsystem: "rescore",
	Name:      "retries_total",
	Help:      "Total retries of contended or failed passport computations.",
})

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

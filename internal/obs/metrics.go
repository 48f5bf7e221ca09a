// Copyright 2025 James Ross
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_submitted_total",
		Help: "Total number of jobs submitted to the broker",
	})
	JobsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_claimed_total",
		Help: "Total number of jobs claimed by a worker via the matcher",
	})
	JobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Total number of successfully completed jobs",
	})
	JobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of terminally failed jobs",
	})
	JobsRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_requeued_total",
		Help: "Total number of jobs requeued after a worker failure",
	})
	JobsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_cancelled_total",
		Help: "Total number of jobs cancelled",
	})
	ClaimDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "claim_duration_seconds",
		Help:    "Histogram of atomic matcher script execution durations",
		Buckets: prometheus.DefBuckets,
	})
	PendingIndexDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pending_index_depth",
		Help: "Current number of jobs awaiting a match",
	})
	ConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hub_connections_active",
		Help: "Current number of open hub connections by role",
	}, []string{"role"})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "circuit_breaker_trips_total",
		Help: "Count of times the circuit breaker transitioned to Open",
	})
	RecoveryReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recovery_reclaimed_total",
		Help: "Total number of jobs reclaimed by the recovery loop from disconnected workers",
	})
	JobsArchived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_archived_total",
		Help: "Total number of terminal jobs moved to archival storage",
	})
)

func init() {
	prometheus.MustRegister(JobsSubmitted, JobsClaimed, JobsCompleted, JobsFailed, JobsRequeued,
		JobsCancelled, ClaimDuration, PendingIndexDepth, ConnectionsActive, CircuitBreakerState,
		CircuitBreakerTrips, RecoveryReclaimed, JobsArchived)
}

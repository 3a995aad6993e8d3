// Package metrics declares the Prometheus collectors shared by the API and
// worker services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Enqueue metrics
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobnex_jobs_enqueued_total",
		Help: "Total number of jobs persisted by the enqueuer",
	}, []string{"type"})

	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobnex_quota_denials_total",
		Help: "Total number of enqueues rejected by the usage limiter",
	}, []string{"action", "tier"})

	// Dispatch metrics
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobnex_jobs_processed_total",
		Help: "Total number of claimed jobs by outcome",
	}, []string{"type", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobnex_job_duration_seconds",
		Help:    "Handler execution time per job type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	DispatchRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobnex_dispatch_runs_total",
		Help: "Total number of dispatcher runs",
	})

	StaleRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobnex_stale_jobs_recovered_total",
		Help: "Total number of processing jobs returned to pending after a lost heartbeat",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jobnex_queue_jobs",
		Help: "Current number of jobs per status",
	}, []string{"status"})
)

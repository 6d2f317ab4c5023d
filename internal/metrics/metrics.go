// Package metrics provides Prometheus metrics for the dispatcher service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted counts job submissions by result.
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "jobs_submitted_total",
			Help:      "Total number of job submissions by result",
		},
		[]string{"result"}, // "created", "exists", "error"
	)

	// JobsFinished counts jobs observed in a terminal phase.
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs observed finished by phase",
		},
		[]string{"phase"}, // "complete", "failed"
	)

	// JobsDeleted counts job teardowns by result.
	JobsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "jobs_deleted_total",
			Help:      "Total number of job deletions by result",
		},
		[]string{"result"},
	)

	// JobsActive tracks jobs that are submitted and not yet terminal.
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "jobs_active",
			Help:      "Number of jobs currently tracked as active",
		},
	)

	// JobDuration tracks time from submission to an observed terminal phase.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "job_duration_seconds",
			Help:      "Job duration from submission to observed completion in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"phase"},
	)

	// ClusterRequests counts control-plane calls by operation and result.
	ClusterRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "cluster_requests_total",
			Help:      "Total number of control-plane requests",
		},
		[]string{"operation", "result"}, // result: success, transient, error
	)

	// ClusterRetries counts retried control-plane attempts.
	ClusterRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "cluster_retries_total",
			Help:      "Total number of retried control-plane attempts",
		},
		[]string{"operation"},
	)

	// ClusterRequestDuration tracks control-plane latency including retries.
	ClusterRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "cluster_request_duration_seconds",
			Help:      "Control-plane request duration in seconds, including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// PodsDrained counts orphaned pods deleted during job teardown.
	PodsDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "pods_drained_total",
			Help:      "Total number of orphaned pods deleted during job teardown",
		},
	)

	// Translations counts graph translations by result.
	Translations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "translations_total",
			Help:      "Total number of graph translations by result",
		},
		[]string{"result"}, // "success", "unresolved_port", "unknown_component", "invalid", "error"
	)

	// SpecsIngested counts catalog synchronization actions.
	SpecsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "specs_ingested_total",
			Help:      "Total number of catalog specs processed by action",
		},
		[]string{"action"}, // "created", "updated", "removed", "unchanged"
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// StoreOperations counts document and job store operations.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "store_operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"store", "operation", "result"},
	)

	// MonitorTickDuration tracks how long one status sweep takes.
	MonitorTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cis",
			Subsystem: "dispatcher",
			Name:      "monitor_tick_duration_seconds",
			Help:      "Duration of one job status sweep in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Package metrics collects and exposes Prometheus counters for the job
// pipeline: submissions, executions, retries, sweeps, and queue depth.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the metric instruments and the registry they live in.
// Each Collector gets its own registry so parallel tests never collide on
// duplicate registration.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted   prometheus.Counter
	jobsDuplicate   prometheus.Counter
	jobsCompleted   prometheus.Counter
	jobsFailed      prometheus.Counter
	jobsRetried     prometheus.Counter
	sweepsSubmitted prometheus.Counter
	sweepsCompleted prometheus.Counter

	jobDuration prometheus.Histogram

	queueDepth  prometheus.Gauge
	jobsRunning prometheus.Gauge
}

// NewCollector creates a collector with a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		jobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "strata_jobs_submitted_total",
			Help: "Total number of new backtest jobs created",
		}),
		jobsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "strata_jobs_duplicate_total",
			Help: "Total number of submissions answered by an existing job",
		}),
		jobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "strata_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		}),
		jobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "strata_jobs_failed_total",
			Help: "Total number of jobs that exhausted their attempts",
		}),
		jobsRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "strata_jobs_retried_total",
			Help: "Total number of failed attempts that were requeued",
		}),
		sweepsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "strata_sweeps_submitted_total",
			Help: "Total number of parameter sweeps created",
		}),
		sweepsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "strata_sweeps_completed_total",
			Help: "Total number of parameter sweeps completed",
		}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "strata_job_duration_seconds",
			Help:    "Wall-clock duration of successful backtest executions",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "strata_queue_depth",
			Help: "Current number of job ids on the dispatch queue",
		}),
		jobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "strata_jobs_running",
			Help: "Current number of jobs being executed",
		}),
	}
}

// Handler returns the exposition endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordSubmitted counts a newly created job.
func (c *Collector) RecordSubmitted() {
	c.jobsSubmitted.Inc()
}

// RecordDuplicate counts a submission resolved by deduplication.
func (c *Collector) RecordDuplicate() {
	c.jobsDuplicate.Inc()
}

// RecordCompleted counts a successful execution and its duration.
func (c *Collector) RecordCompleted(seconds float64) {
	c.jobsCompleted.Inc()
	c.jobDuration.Observe(seconds)
}

// RecordFailed counts a terminal job failure.
func (c *Collector) RecordFailed() {
	c.jobsFailed.Inc()
}

// RecordRetry counts a failed attempt that went back on the queue.
func (c *Collector) RecordRetry() {
	c.jobsRetried.Inc()
}

// RecordSweepSubmitted counts a new sweep.
func (c *Collector) RecordSweepSubmitted() {
	c.sweepsSubmitted.Inc()
}

// RecordSweepCompleted counts a finished sweep.
func (c *Collector) RecordSweepCompleted() {
	c.sweepsCompleted.Inc()
}

// SetQueueDepth updates the dispatch queue depth gauge.
func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// ExecutionStarted marks a job as in flight.
func (c *Collector) ExecutionStarted() {
	c.jobsRunning.Inc()
}

// ExecutionEnded marks a job as no longer in flight.
func (c *Collector) ExecutionEnded() {
	c.jobsRunning.Dec()
}

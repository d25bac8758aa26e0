package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for imports and background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	movements  *prometheus.CounterVec
	reconciled *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ImportCounts is the per-outcome tally of one statement import.
type ImportCounts struct {
	Imported   int
	Duplicates int
	Collisions int
	Skipped    int
}

// RecordImport adds the statement outcome counters.
func (m *Metrics) RecordImport(c ImportCounts) {
	if m == nil {
		return
	}
	add(m.movements, "imported", c.Imported)
	add(m.movements, "duplicate", c.Duplicates)
	add(m.movements, "collision", c.Collisions)
	add(m.movements, "skipped", c.Skipped)
}

// RecordReconcile adds matcher outcome counters.
func (m *Metrics) RecordReconcile(matched, pending, autoCreated int) {
	if m == nil {
		return
	}
	add(m.reconciled, "matched", matched)
	add(m.reconciled, "pending", pending)
	add(m.reconciled, "auto_created", autoCreated)
}

func add(vec *prometheus.CounterVec, label string, n int) {
	if n <= 0 {
		return
	}
	vec.WithLabelValues(label).Add(float64(n))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bankrec_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bankrec_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bankrec_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bankrec_import_movements_total",
		Help: "Statement movements seen by imports grouped by outcome.",
	}, []string{"outcome"})
	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bankrec_reconcile_movements_total",
		Help: "Movements processed by the matcher grouped by result.",
	}, []string{"result"})
	registerer.MustRegister(runs, failures, duration, movements, reconciled)
	return &Metrics{runs: runs, failures: failures, duration: duration, movements: movements, reconciled: reconciled}
}

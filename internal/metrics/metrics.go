// Package metrics exposes Prometheus instruments for checks, runs and
// corrections.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "salesqa"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	checkDuration *prometheus.HistogramVec
	checkFailures *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	issues        *prometheus.GaugeVec
	discrepancies *prometheus.GaugeVec
	corrections   *prometheus.CounterVec
	correctFails  *prometheus.CounterVec
}

// New creates and registers all instruments.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Duration of individual quality checks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"category"}),
		checkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_failures_total",
			Help:      "Checks that fell back to their default result.",
		}, []string{"category"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of complete pipeline runs.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		issues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_issues",
			Help:      "Issues found by the latest report, by category.",
		}, []string{"category"}),
		discrepancies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "discrepancies",
			Help:      "Discrepancies found by the latest reconciliation, by kind.",
		}, []string{"kind"}),
		corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrected_rows_total",
			Help:      "Rows changed by corrections.",
		}, []string{"correction"}),
		correctFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correction_failures_total",
			Help:      "Corrections that could not be applied.",
		}, []string{"correction"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.checkDuration,
		m.checkFailures,
		m.runs,
		m.runDuration,
		m.issues,
		m.discrepancies,
		m.corrections,
		m.correctFails,
	)
	return m
}

// ObserveCheck records one check outcome.
func (m *Metrics) ObserveCheck(category string, d time.Duration, failed bool) {
	m.checkDuration.WithLabelValues(category).Observe(d.Seconds())
	if failed {
		m.checkFailures.WithLabelValues(category).Inc()
	}
}

// ObserveCorrection records one correction outcome. Negative counts are
// failures.
func (m *Metrics) ObserveCorrection(name string, rows int64) {
	if rows < 0 {
		m.correctFails.WithLabelValues(name).Inc()
		return
	}
	m.corrections.WithLabelValues(name).Add(float64(rows))
}

// ObserveRun records a finished pipeline run.
func (m *Metrics) ObserveRun(d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// ObserveRejectedRun records a run refused by the limiter.
func (m *Metrics) ObserveRejectedRun() {
	m.runs.WithLabelValues("rejected").Inc()
}

// SetIssues sets the latest issue count for a report category.
func (m *Metrics) SetIssues(category string, n int64) {
	m.issues.WithLabelValues(category).Set(float64(n))
}

// SetDiscrepancies sets the latest discrepancy count for a kind.
func (m *Metrics) SetDiscrepancies(kind string, n int) {
	m.discrepancies.WithLabelValues(kind).Set(float64(n))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

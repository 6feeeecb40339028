// Package metrics exposes crawl counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwygoda/collector/internal/domain"
)

// Metrics holds the collector's counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	jobs     *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	runs     *prometheus.CounterVec
}

// New registers all counters plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_jobs_total",
			Help: "Batch jobs processed, by catalog, phase and outcome",
		}, []string{"catalog", "phase", "outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_persisted_bytes_total",
			Help: "Asset bytes written to storage",
		}, []string{"catalog"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_runs_total",
			Help: "Catalog runs finished, by final status",
		}, []string{"catalog", "status"}),
	}

	m.registry.MustRegister(
		m.jobs,
		m.bytes,
		m.runs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// JobDone counts one job outcome.
func (m *Metrics) JobDone(catalog, phase string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.jobs.WithLabelValues(catalog, phase, outcome).Inc()
}

// BytesPersisted adds n written bytes.
func (m *Metrics) BytesPersisted(catalog string, n int64) {
	m.bytes.WithLabelValues(catalog).Add(float64(n))
}

// RunFinished counts a run reaching status.
func (m *Metrics) RunFinished(catalog string, status domain.RunStatus) {
	m.runs.WithLabelValues(catalog, string(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

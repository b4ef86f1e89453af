// Package metrics exposes evaluation counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/phpinline/internal/model"
)

// Metrics owns a private registry so tests and multiple servers never collide
// on the global one.
type Metrics struct {
	registry    *prometheus.Registry
	evaluations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	stale       prometheus.Counter
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phpinline_evaluations_total",
				Help: "Evaluations run, by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phpinline_evaluation_duration_seconds",
				Help:    "Interpreter wall time per evaluation.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"mode"},
		),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phpinline_stale_results_total",
			Help: "Results discarded because a newer evaluation was issued.",
		}),
	}

	m.registry.MustRegister(
		m.evaluations,
		m.duration,
		m.stale,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveEvaluation records one finished evaluation.
func (m *Metrics) ObserveEvaluation(mode model.Mode, failed bool, d time.Duration) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	m.evaluations.WithLabelValues(string(mode), outcome).Inc()
	m.duration.WithLabelValues(string(mode)).Observe(d.Seconds())
}

// ObserveStale records a discarded out-of-order result.
func (m *Metrics) ObserveStale() {
	m.stale.Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus instrumentation for optimization runs
// and the HTTP surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/covariant-dev/bayopt/internal/bo"
)

// Metrics holds the collectors for a service instance.
type Metrics struct {
	registry *prometheus.Registry

	iterations    prometheus.Counter
	evaluations   prometheus.Counter
	refits        prometheus.Counter
	bestValue     prometheus.Gauge
	fitDuration   prometheus.Histogram
	evalDuration  prometheus.Histogram
	jobsRunning   prometheus.Gauge
	jobsCompleted *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Name: "bayopt_iterations_total",
			Help: "Optimization loop iterations completed.",
		}),
		evaluations: factory.NewCounter(prometheus.CounterOpts{
			Name: "bayopt_evaluations_total",
			Help: "Objective evaluations completed.",
		}),
		refits: factory.NewCounter(prometheus.CounterOpts{
			Name: "bayopt_model_refits_total",
			Help: "Surrogate model refits.",
		}),
		bestValue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bayopt_best_value",
			Help: "Best objective value observed by the most recent iteration.",
		}),
		fitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bayopt_fit_duration_seconds",
			Help:    "Surrogate fit duration per iteration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		evalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bayopt_eval_duration_seconds",
			Help:    "Objective evaluation duration per iteration batch.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		jobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bayopt_jobs_running",
			Help: "Optimization jobs currently executing.",
		}),
		jobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bayopt_jobs_completed_total",
			Help: "Optimization jobs finished, by terminal status.",
		}, []string{"status"}),
	}
}

// Handler serves the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks adapts the collectors into driver iteration hooks.
func (m *Metrics) Hooks() bo.Hooks {
	return bo.Hooks{
		OnIteration: func(info bo.IterationInfo) {
			m.iterations.Inc()
			m.evaluations.Add(float64(info.BatchSize))
			if info.Refitted {
				m.refits.Inc()
			}
			m.bestValue.Set(info.BestY)
			m.fitDuration.Observe(info.FitDuration.Seconds())
			m.evalDuration.Observe(info.EvalDuration.Seconds())
		},
	}
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() { m.jobsRunning.Inc() }

// JobFinished marks a job as done with its terminal status.
func (m *Metrics) JobFinished(status string) {
	m.jobsRunning.Dec()
	m.jobsCompleted.WithLabelValues(status).Inc()
}

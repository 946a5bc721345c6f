// Package metrics holds the Prometheus collectors of the annealer service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "annealer"

// Metrics groups the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// runsTotal counts finished runs.
	// Labels: schedule (exponential, linear, logarithmic), outcome (completed, failed, cancelled)
	runsTotal *prometheus.CounterVec

	// runDuration measures wall time of a run.
	// Labels: schedule
	runDuration *prometheus.HistogramVec

	// runIterations tracks how many iterations runs needed.
	// Labels: schedule
	runIterations *prometheus.HistogramVec

	// acceptanceRatio tracks accepted moves over iterations.
	acceptanceRatio prometheus.Histogram

	// bestEnergy tracks the final best energy of completed runs.
	bestEnergy prometheus.Histogram

	jobsInFlight prometheus.Gauge
	jobsQueued   prometheus.Gauge

	// rejected counts submissions turned away.
	// Labels: reason (rate_limited, invalid, closed)
	rejected *prometheus.CounterVec

	// httpRequests counts requests.
	// Labels: method, route (chi pattern), status
	httpRequests *prometheus.CounterVec

	// httpLatency measures request latency.
	// Labels: method, route
	httpLatency *prometheus.HistogramVec
}

// New registers the collectors on a new registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "total",
			Help:      "Finished optimization runs by schedule and outcome",
		}, []string{"schedule", "outcome"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Wall time of optimization runs in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"schedule"}),
		runIterations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "iterations",
			Help:      "Iterations executed per optimization run",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 9),
		}, []string{"schedule"}),
		acceptanceRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "acceptance_ratio",
			Help:      "Share of proposed moves accepted per run",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		bestEnergy: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "best_energy",
			Help:      "Best energy reached by completed runs",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 100, 1000},
		}),
		jobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Runs currently executing",
		}),
		jobsQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "queued",
			Help:      "Runs waiting for a worker",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "rejected_total",
			Help:      "Submissions rejected before a run was created",
		}, []string{"reason"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(schedule, outcome string, elapsed time.Duration, iterations int, acceptance float64) {
	m.runsTotal.WithLabelValues(schedule, outcome).Inc()
	m.runDuration.WithLabelValues(schedule).Observe(elapsed.Seconds())
	if iterations > 0 {
		m.runIterations.WithLabelValues(schedule).Observe(float64(iterations))
		m.acceptanceRatio.Observe(acceptance)
	}
}

// ObserveBestEnergy records the final best energy of a completed run.
func (m *Metrics) ObserveBestEnergy(energy float64) {
	m.bestEnergy.Observe(energy)
}

// JobQueued moves the queued gauge by delta.
func (m *Metrics) JobQueued(delta float64) {
	m.jobsQueued.Add(delta)
}

// JobStarted marks a run as executing.
func (m *Metrics) JobStarted() {
	m.jobsInFlight.Inc()
}

// JobFinished marks a run as no longer executing.
func (m *Metrics) JobFinished() {
	m.jobsInFlight.Dec()
}

// Rejected counts a rejected submission.
func (m *Metrics) Rejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// Middleware records request count and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Package metrics records transport and pipeline counters in a private
// prometheus registry. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	rateLimitWaits  prometheus.Counter
	rateLimitSecs   prometheus.Counter
	stepsTotal      *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	actionsTotal    *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botexport_requests_total",
				Help: "Logical API calls by verb and final outcome",
			},
			[]string{"method", "outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botexport_attempt_duration_seconds",
				Help:    "Latency of individual HTTP attempts",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botexport_retries_total",
				Help: "Attempts consumed by transient failures",
			},
			[]string{"method"},
		),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botexport_rate_limited_total",
			Help: "Responses with status 429",
		}),
		rateLimitSecs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botexport_rate_limit_wait_seconds_total",
			Help: "Time spent waiting on server supplied retry hints",
		}),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botexport_steps_total",
				Help: "Export steps by status",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botexport_step_duration_seconds",
				Help:    "Wall time of export steps",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"step"},
		),
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botexport_actions_total",
				Help: "Dispatched actions by result",
			},
			[]string{"action", "result"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.attemptDuration,
		m.retriesTotal,
		m.rateLimitWaits,
		m.rateLimitSecs,
		m.stepsTotal,
		m.stepDuration,
		m.actionsTotal,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) ObserveAttempt(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) RecordRetry(method string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) RecordRateLimit(wait time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWaits.Inc()
	m.rateLimitSecs.Add(wait.Seconds())
}

func (m *Metrics) RecordStep(step, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) RecordAction(action, result string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(action, result).Inc()
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

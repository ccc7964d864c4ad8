// Package metrics exposes Prometheus collectors for pick transitions,
// persistence failures, scoring outcomes and HTTP traffic.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
)

const namespace = "taper"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	persistFails *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	sessions     prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "picks",
			Name:      "transitions_total",
			Help:      "Pick lifecycle operations by op and result.",
		}, []string{"op", "result"}),
		persistFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "picks",
			Name:      "persist_failures_total",
			Help:      "Backend writes that failed after the in-memory transition was applied.",
		}, []string{"backend", "op"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "outcomes_total",
			Help:      "Scored pick outcomes served to clients.",
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "picks",
			Name:      "active_sessions",
			Help:      "Pick managers currently held in memory.",
		}),
	}
	m.registry.MustRegister(
		m.transitions,
		m.persistFails,
		m.outcomes,
		m.httpDuration,
		m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Transition implements picks.Recorder.
func (m *Metrics) Transition(op string, err error) {
	m.transitions.WithLabelValues(op, resultLabel(err)).Inc()
}

// PersistFailed implements picks.Recorder.
func (m *Metrics) PersistFailed(backend, op string) {
	m.persistFails.WithLabelValues(backend, op).Inc()
}

// Outcome counts one scored pick.
func (m *Metrics) Outcome(o domain.Outcome) {
	m.outcomes.WithLabelValues(string(o)).Inc()
}

// SessionOpened and SessionClosed track the manager registry size.
func (m *Metrics) SessionOpened() { m.sessions.Inc() }

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() { m.sessions.Dec() }

// ObserveHTTP records one request.
func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

// resultLabel folds transition errors into a bounded label set.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, picks.ErrUnknownMarket):
		return "unknown_market"
	case errors.Is(err, picks.ErrInvalidSide):
		return "invalid_side"
	case errors.Is(err, picks.ErrNoDraft):
		return "no_draft"
	case errors.Is(err, picks.ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, picks.ErrNotSubmitted):
		return "not_submitted"
	case errors.Is(err, picks.ErrTimeLocked):
		return "time_locked"
	case errors.Is(err, picks.ErrSettled):
		return "settled"
	case errors.Is(err, picks.ErrLoading):
		return "loading"
	case errors.Is(err, picks.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}

var _ picks.Recorder = (*Metrics)(nil)

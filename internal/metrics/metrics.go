// Package metrics exposes Prometheus counters for swap negotiation and
// reputation activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skillswap"

// Manager owns a private registry so several engines can coexist in one
// process. A nil *Manager is valid and records nothing.
type Manager struct {
	registry *prometheus.Registry

	negotiations   *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	feedback       *prometheus.CounterVec
	storeRetries   prometheus.Counter
	notifyFailures prometheus.Counter
	notifyDropped  prometheus.Counter

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Option applies a configuration option to the Manager.
type Option func(*options)

type options struct {
	buckets []float64
}

// WithHistogramBuckets sets custom buckets for request latency.
func WithHistogramBuckets(buckets []float64) Option {
	return func(o *options) {
		if len(buckets) > 0 {
			o.buckets = buckets
		}
	}
}

func NewManager(opts ...Option) *Manager {
	o := options{buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&o)
	}
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)
	return &Manager{
		registry: reg,
		negotiations: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "negotiations_total",
			Help:      "Negotiation creation attempts by outcome",
		}, []string{"outcome"}),
		transitions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "transitions_total",
			Help:      "Lifecycle transition attempts by action and outcome",
		}, []string{"action", "outcome"}),
		feedback: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reputation",
			Name:      "feedback_total",
			Help:      "Feedback submissions by outcome",
		}, []string{"outcome"}),
		storeRetries: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Transactions retried after transient lock contention",
		}),
		notifyFailures: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Post-commit notifications that failed to deliver",
		}),
		notifyDropped: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the delivery queue was full",
		}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   o.buckets,
		}, []string{"method", "route"}),
	}
}

func (m *Manager) RecordNegotiation(outcome string) {
	if m == nil {
		return
	}
	m.negotiations.WithLabelValues(outcome).Inc()
}

func (m *Manager) RecordTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Manager) RecordFeedback(outcome string) {
	if m == nil {
		return
	}
	m.feedback.WithLabelValues(outcome).Inc()
}

func (m *Manager) RecordStoreRetry() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}

func (m *Manager) RecordNotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Manager) RecordNotifyDropped() {
	if m == nil {
		return
	}
	m.notifyDropped.Inc()
}

func (m *Manager) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

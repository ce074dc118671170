// Package metrics exposes prometheus collectors for the auth endpoints.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes used as the "outcome" label.
const (
	OutcomeSuccess     = "success"
	OutcomeInvalid     = "invalid_credentials"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// Metrics groups the collectors.  A nil *Metrics is valid and records
// nothing, so handlers do not need to guard every call.
type Metrics struct {
	gatherer prometheus.Gatherer

	loginTotal    *prometheus.CounterVec
	lockoutsTotal prometheus.Counter
	requestsTotal *prometheus.CounterVec
}

// New registers the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers on reg and serves from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		loginTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "login_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"}),
		lockoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "lockouts_total",
			Help:      "Login attempts refused by the attempt limiter",
		}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
	}
}

// LoginAttempt counts one login by outcome.
func (m *Metrics) LoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeRateLimited {
		m.lockoutsTotal.Inc()
	}
}

// Request counts one served HTTP request.
func (m *Metrics) Request(method, route, status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
}

// Handler serves the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. All recording methods
// are safe on a nil receiver so components can run unmetered in tests.
type Metrics struct {
	registry *prometheus.Registry

	loginFailures     prometheus.Counter
	accountLockouts   prometheus.Counter
	rateLimitRejected *prometheus.CounterVec
	tokensRevoked     prometheus.Counter
	revocationsSwept  prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "auth",
			Name:      "login_failures_total",
			Help:      "Failed credential checks at login.",
		}),
		accountLockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "auth",
			Name:      "account_lockouts_total",
			Help:      "Logins rejected because the account was locked.",
		}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"class"}),
		tokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "auth",
			Name:      "tokens_revoked_total",
			Help:      "Tokens added to the revocation list via logout.",
		}),
		revocationsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "auth",
			Name:      "revocations_swept_total",
			Help:      "Expired revocation records deleted by the sweeper.",
		}),
	}

	registry.MustRegister(
		m.loginFailures,
		m.accountLockouts,
		m.rateLimitRejected,
		m.tokensRevoked,
		m.revocationsSwept,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LoginFailure() {
	if m != nil {
		m.loginFailures.Inc()
	}
}

func (m *Metrics) AccountLockout() {
	if m != nil {
		m.accountLockouts.Inc()
	}
}

func (m *Metrics) RateLimitRejected(class string) {
	if m != nil {
		m.rateLimitRejected.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) TokenRevoked() {
	if m != nil {
		m.tokensRevoked.Inc()
	}
}

func (m *Metrics) RevocationsSwept(count int64) {
	if m != nil && count > 0 {
		m.revocationsSwept.Add(float64(count))
	}
}

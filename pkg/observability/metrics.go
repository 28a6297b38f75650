package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Authorization metrics
	AuthzChecksTotal   *prometheus.CounterVec
	ScopeCacheHits     prometheus.Counter
	ScopeCacheMisses   prometheus.Counter
	TokenVerifications *prometheus.CounterVec

	// Rate limit metrics
	QuotaLookupFailures prometheus.Counter
	RateLimitedTotal    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		AuthzChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vantage_authz_checks_total",
				Help: "Total number of authorization requirement evaluations",
			},
			[]string{"kind", "result"},
		),
		ScopeCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vantage_scope_cache_hits_total",
				Help: "Effective-scope cache hits",
			},
		),
		ScopeCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vantage_scope_cache_misses_total",
				Help: "Effective-scope cache misses",
			},
		),
		TokenVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vantage_token_verifications_total",
				Help: "Total number of bearer token verifications",
			},
			[]string{"result"},
		),
		QuotaLookupFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vantage_quota_lookup_failures_total",
				Help: "Quota store lookups that degraded to defaults",
			},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vantage_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"class"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.AuthzChecksTotal,
		m.ScopeCacheHits,
		m.ScopeCacheMisses,
		m.TokenVerifications,
		m.QuotaLookupFailures,
		m.RateLimitedTotal,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

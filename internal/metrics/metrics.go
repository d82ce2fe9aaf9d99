package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of the identity provider. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	tokensIssued        *prometheus.CounterVec
	grantFailures       *prometheus.CounterVec
	rateLimitRejections *prometheus.CounterVec
	lifecycleEvents     *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idp_tokens_issued_total",
			Help: "Access tokens issued, by grant type.",
		}, []string{"grant_type"}),
		grantFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idp_grant_failures_total",
			Help: "Token endpoint failures, by grant type and error code.",
		}, []string{"grant_type", "error"}),
		rateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idp_rate_limit_rejections_total",
			Help: "Requests rejected by the abuse rate limiter, by action.",
		}, []string{"action"}),
		lifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idp_lifecycle_events_total",
			Help: "User lifecycle events, by type.",
		}, []string{"type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idp_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idp_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	reg.MustRegister(m.tokensIssued, m.grantFailures, m.rateLimitRejections, m.lifecycleEvents, m.httpRequests, m.httpDuration)
	return m
}

func (m *Metrics) TokenIssued(grantType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(grantType).Inc()
}

func (m *Metrics) GrantFailed(grantType, code string) {
	if m == nil {
		return
	}
	m.grantFailures.WithLabelValues(grantType, code).Inc()
}

func (m *Metrics) RateLimited(action string) {
	if m == nil {
		return
	}
	m.rateLimitRejections.WithLabelValues(action).Inc()
}

func (m *Metrics) LifecycleEvent(eventType string) {
	if m == nil {
		return
	}
	m.lifecycleEvents.WithLabelValues(eventType).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument counts and times every request passing through next.
func (m *Metrics) Instrument(next http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-idp-server/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := metrics.New()
	m.TokenIssued("password")
	m.GrantFailed("authorization_code", "invalid_grant")
	m.RateLimited("invalid_login")
	m.LifecycleEvent("registration")

	h := m.Instrument(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	require.Contains(t, string(body), `idp_tokens_issued_total{grant_type="password"} 1`)
	require.Contains(t, string(body), `idp_grant_failures_total{error="invalid_grant",grant_type="authorization_code"} 1`)
	require.Contains(t, string(body), `idp_rate_limit_rejections_total{action="invalid_login"} 1`)
	require.Contains(t, string(body), `idp_lifecycle_events_total{type="registration"} 1`)
	require.Contains(t, string(body), `idp_http_requests_total{method="GET",path="/brew",status="418"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.TokenIssued("password")
	m.RateLimited("signup")

	called := false
	m.Instrument(func(w http.ResponseWriter, r *http.Request) { called = true })(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, called)
}

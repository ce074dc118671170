package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLoginAttempt_CountsOutcomeAndLockouts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, reg)

	m.LoginAttempt(OutcomeSuccess)
	m.LoginAttempt(OutcomeInvalid)
	m.LoginAttempt(OutcomeInvalid)
	m.LoginAttempt(OutcomeRateLimited)

	require.Equal(t, 1.0, testutil.ToFloat64(m.loginTotal.WithLabelValues(OutcomeSuccess)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.loginTotal.WithLabelValues(OutcomeInvalid)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.lockoutsTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.LoginAttempt(OutcomeSuccess)
		m.Request("GET", "/healthz", "200")
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.LoginAttempt(OutcomeSuccess)
	m.Request("POST", "/v1/auth/login", "200")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `auth_login_total{outcome="success"} 1`)
	require.Contains(t, string(body), `http_requests_total{method="POST",route="/v1/auth/login",status="200"} 1`)
}

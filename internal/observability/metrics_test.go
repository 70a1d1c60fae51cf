package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		namespace string
		prefix    string
	}{
		{name: "custom namespace", namespace: "custom", prefix: "custom_"},
		{name: "empty namespace uses default", namespace: "", prefix: "secgw_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := NewMetrics(tt.namespace)
			require.NotNil(t, m)
			m.RecordDecision("api", "ALLOWED", "allow")

			families, err := m.Registry().Gather()
			require.NoError(t, err)

			var found bool
			for _, f := range families {
				if f.GetName() == tt.prefix+"decisions_total" {
					found = true
				}
			}
			assert.True(t, found)
		})
	}
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")

	m.RecordDecision("auth", "DENIED", "deny")
	m.RecordDecision("auth", "DENIED", "deny")
	m.RecordCSRFValidation("valid")
	m.RecordCSRFValidation("expired")
	m.RecordPasswordVerification("mismatch")
	m.RecordSecurityEvent("rate_limit_exceeded", "medium")
	m.AddSanitizedStrings(3)
	m.AddSanitizedStrings(0)
	m.SetActiveKeys("search", 7)
	m.SetBuildInfo("1.2.3")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("auth", "DENIED", "deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.csrfValidations.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passwordVerifications.WithLabelValues("mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.securityEvents.WithLabelValues("rate_limit_exceeded", "medium")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sanitizedStrings))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.rateLimitActiveKeys.WithLabelValues("search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.buildInfo.WithLabelValues("1.2.3")))
}

func TestMetrics_ObserveStage(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	m.ObserveStage("RATE_CHECKED", 50*time.Microsecond)
	m.ObserveStage("RATE_CHECKED", time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision("a", "b", "c")
		m.ObserveStage("s", time.Second)
		m.SetActiveKeys("a", 1)
		m.AddSanitizedStrings(1)
		m.RecordCSRFValidation("valid")
		m.RecordPasswordVerification("match")
		m.RecordSecurityEvent("t", "low")
		m.SetBuildInfo("v")
	})
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	m.RecordCSRFValidation("valid")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `test_csrf_validations_total{result="valid"} 1`))
}

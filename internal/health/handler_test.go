package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alo17/secgateway/internal/ratelimit/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, HealthStatus) {
	t.Helper()

	engine := gin.New()
	h.RegisterRoutes(engine)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return rec, status
}

// ============================================================================
// Probes
// ============================================================================

func TestHandler_Liveness(t *testing.T) {
	t.Parallel()

	h := NewHandler()
	h.AddCheck(NewHealthCheckFunc("broken", func(context.Context) error {
		return errors.New("down")
	}))

	for _, path := range []string{"/healthz", "/livez"} {
		rec, status := serve(t, h, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, StatusOK, status.Status, path)
	}
}

func TestHandler_Readiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkErr   error
		wantCode   int
		wantStatus string
	}{
		{name: "healthy", wantCode: http.StatusOK, wantStatus: StatusOK},
		{name: "failing check", checkErr: errors.New("store closed"), wantCode: http.StatusServiceUnavailable, wantStatus: StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHandler()
			h.AddCheck(NewHealthCheckFunc("ok", func(context.Context) error { return nil }))
			h.AddCheck(NewHealthCheckFunc("dep", func(context.Context) error { return tt.checkErr }))

			for _, path := range []string{"/ready", "/readyz"} {
				rec, status := serve(t, h, path)
				assert.Equal(t, tt.wantCode, rec.Code)
				assert.Equal(t, tt.wantStatus, status.Status)
				require.Len(t, status.Checks, 2)
				assert.Equal(t, StatusOK, status.Checks["ok"].Status)
				if tt.checkErr != nil {
					assert.Equal(t, tt.checkErr.Error(), status.Checks["dep"].Error)
				}
			}
		})
	}
}

func TestHandler_Draining(t *testing.T) {
	t.Parallel()

	h := NewHandler()
	h.SetDraining(true)
	assert.True(t, h.IsDraining())

	rec, status := serve(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StatusDraining, status.Status)

	rec, _ = serve(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code, "liveness ignores draining")

	h.SetDraining(false)
	rec, _ = serve(t, h, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()

	h := NewHandler(WithVersion("1.2.3"))
	rec, status := serve(t, h, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.2.3", status.Version)
	assert.NotEmpty(t, status.Uptime)
}

func TestHandler_RemoveCheck(t *testing.T) {
	t.Parallel()

	h := NewHandler()
	h.AddCheck(NewHealthCheckFunc("dep", func(context.Context) error { return errors.New("down") }))
	h.RemoveCheck("dep")
	h.RemoveCheck("missing")

	rec, status := serve(t, h, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, status.Checks)
}

func TestHandler_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics("secgw", reg)

	h := NewHandler(WithMetrics(m))
	h.AddCheck(NewHealthCheckFunc("dep", func(context.Context) error { return errors.New("down") }))

	serve(t, h, "/ready")
	serve(t, h, "/healthz")

	assert.InDelta(t, 1, testutil.ToFloat64(m.probesTotal.WithLabelValues("readiness", StatusError)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.probesTotal.WithLabelValues("liveness", StatusOK)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.checkStatus.WithLabelValues("dep")), 0)
}

// ============================================================================
// Checks
// ============================================================================

func TestStoreHealthCheck(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	check := StoreHealthCheck("ratelimit_store", st)
	assert.Equal(t, "ratelimit_store", check.Name())
	assert.NoError(t, check.Check(context.Background()))

	require.NoError(t, st.Close())
	assert.ErrorIs(t, check.Check(context.Background()), store.ErrStoreClosed)

	assert.Error(t, StoreHealthCheck("nil", nil).Check(context.Background()))
}

func TestTimeoutHealthCheck(t *testing.T) {
	t.Parallel()

	slow := NewHealthCheckFunc("slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	check := NewTimeoutHealthCheck(slow, 10*time.Millisecond)
	assert.Equal(t, "slow", check.Name())
	assert.Error(t, check.Check(context.Background()))

	fast := NewTimeoutHealthCheck(NewHealthCheckFunc("fast", func(context.Context) error { return nil }), time.Second)
	assert.NoError(t, fast.Check(context.Background()))
}

func TestCachedHealthCheck(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	check := NewCachedHealthCheck(NewHealthCheckFunc("counted", func(context.Context) error {
		calls.Add(1)
		return nil
	}), time.Hour)

	for range 3 {
		require.NoError(t, check.Check(context.Background()))
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "counted", check.Name())
}

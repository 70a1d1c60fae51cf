package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alo17/secgateway/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestServer_Handler(t *testing.T) {
	t.Parallel()

	s := New(Config{AccessLog: true})
	s.Engine().GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	s.Engine().GET("/panic", func(*gin.Context) {
		panic("boom")
	})

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{name: "route", method: http.MethodGet, path: "/ping", wantCode: http.StatusOK, wantBody: "pong"},
		{name: "not found", method: http.MethodGet, path: "/missing", wantCode: http.StatusNotFound, wantBody: `{"error":"Not found"}`},
		{name: "method not allowed", method: http.MethodDelete, path: "/ping", wantCode: http.StatusMethodNotAllowed, wantBody: `{"error":"Method not allowed"}`},
		{name: "panic recovered", method: http.MethodGet, path: "/panic", wantCode: http.StatusInternalServerError, wantBody: middleware.ErrInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(middleware.HeaderXRequestID))
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	s := New(Config{ListenAddr: "127.0.0.1:0", ReadTimeout: time.Second, WriteTimeout: time.Second})
	s.Engine().GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	assert.Nil(t, s.Addr())
	assert.NoError(t, s.Stop(context.Background()), "stop before start is a no-op")

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(context.Background()), "already running")

	resp, err := http.Get("http://" + s.Addr().String() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "pong", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())

	_, open := <-s.Errors()
	assert.False(t, open)
}

func TestServer_StartListenError(t *testing.T) {
	t.Parallel()

	s := New(Config{ListenAddr: "256.0.0.1:bad"})
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	assert.False(t, s.IsRunning())
}

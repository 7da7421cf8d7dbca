package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fatflowers/cashier-receipts/pkg/logctx"
)

func newTestEngine(base *zap.SugaredLogger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(base), AccessLogMiddleware(base))
	r.GET("/ping/:id", func(c *gin.Context) {
		c.String(http.StatusOK, logctx.TraceID(c.Request.Context()))
	})
	return r
}

func TestTrace_EchoesClientRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newTestEngine(zap.New(core).Sugar())

	req := httptest.NewRequest(http.MethodGet, "/ping/1", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "req-123", w.Body.String())
	require.Equal(t, "req-123", w.Header().Get(RequestIDHeader))

	entries := logs.FilterMessage("http_access").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "req-123", fields["trace_id"])
	require.Equal(t, "/ping/:id", fields["path"])
	require.EqualValues(t, http.StatusOK, fields["status"])
}

func TestTrace_GeneratesIDWhenMissing(t *testing.T) {
	r := newTestEngine(zap.NewNop().Sugar())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping/2", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.String())
	require.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))
}

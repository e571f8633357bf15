package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	obscontext "github.com/EF-corp/AgroBotTg/internal/observability/context"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errQuota = errors.New("quota")

func newLoggedEngine(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		ErrorClassifier: func(err error) (string, string) {
			if errors.Is(err, errQuota) {
				return "quota_exhausted", "quota_exhausted"
			}
			return "internal_error", "internal_error"
		},
	}))
	return r, logs
}

func TestGinMiddlewareLogsUserFromContext(t *testing.T) {
	r, logs := newLoggedEngine(t)
	r.GET("/v1/users/:id/balance", func(c *gin.Context) {
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), 9))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/users/9/balance", nil)
	req.Header.Set("X-Request-Id", "abc-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-1", w.Header().Get("X-Request-Id"))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "9", fields["user_id"])
	assert.Equal(t, "abc-1", fields["request_id"])
	assert.Equal(t, "/v1/users/:id/balance", fields["route"])
}

func TestGinMiddlewareReplacesOversizedRequestID(t *testing.T) {
	r, _ := newLoggedEngine(t)
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", strings.Repeat("x", 200))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	got := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, got)
	assert.Less(t, len(got), 200)
}

func TestGinMiddlewareQuietsExhaustedQuota(t *testing.T) {
	r, logs := newLoggedEngine(t)
	r.POST("/v1/users/:id/messages", func(c *gin.Context) {
		_ = c.Error(errQuota)
		c.Status(http.StatusPaymentRequired)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/users/5/messages", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "5", entries[0].ContextMap()["user_id"])
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/metrics", http.StatusOK, ""))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/v1/rates", http.StatusBadGateway, "payment_error"))
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/v1/users/:id/messages", http.StatusTooManyRequests, "rate_limited"))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/v1/users/:id/purchase", http.StatusConflict, "conflict"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/v1/rates", http.StatusOK, ""))
}

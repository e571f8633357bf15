package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	obscontext "github.com/EF-corp/AgroBotTg/internal/observability/context"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedEngine(t *testing.T) (*gin.Engine, *tracetest.SpanRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(obscontext.WithRequestID(c.Request.Context(), "req-1"))
		c.Next()
	})
	r.Use(GinMiddleware())
	return r, rec
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestGinMiddlewareTagsUser(t *testing.T) {
	r, rec := newTracedEngine(t)
	r.GET("/v1/users/:id/balance", func(c *gin.Context) {
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), 4242))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/users/4242/balance", nil))
	require.Equal(t, http.StatusOK, w.Code)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /v1/users/:id/balance", spans[0].Name())
	attrs := spanAttrs(spans[0])
	assert.Equal(t, "4242", attrs[AttrUserID].AsString())
	assert.Equal(t, "req-1", attrs[AttrRequestID].AsString())
	assert.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestGinMiddlewareMarksServerErrors(t *testing.T) {
	r, rec := newTracedEngine(t)
	r.POST("/v1/users/:id/purchase", func(c *gin.Context) {
		c.Status(http.StatusBadGateway)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/users/77/purchase", nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "77", spanAttrs(spans[0])[AttrUserID].AsString())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestGinMiddlewareSkipsHealth(t *testing.T) {
	r, rec := newTracedEngine(t)
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, rec.Ended())
}

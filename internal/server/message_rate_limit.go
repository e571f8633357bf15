package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/observability/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const rateLimitReasonUserMessages = "user-messages"

// MessageRateLimit throttles chat messages per user with the redis token bucket.
// Limiter failures let the request through.
func (s *Server) MessageRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		userID := userIDFromContext(c)
		result, err := s.limiter.AllowUser(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("message rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if result.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			c.Next()
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		logger.FromContext(ctx).Warn("message rate limit exceeded",
			zap.String("reason", rateLimitReasonUserMessages),
			zap.String("endpoint", endpoint),
		)
		s.obsMetrics.RecordRateLimited(ctx, endpoint, rateLimitReasonUserMessages)

		c.Header("Retry-After", retryAfterSeconds(result.RetryAfter))
		c.Header("X-Rate-Limited-Reason", rateLimitReasonUserMessages)
		AbortWithError(c, ErrRateLimited)
	}
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}

package ratelimit

import (
	"context"
	"fmt"

	"github.com/EF-corp/AgroBotTg/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyUserMessages = "agrobot:messages:user:%d"

// MessageLimiter throttles assistant requests per user.
type MessageLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewMessageLimiter returns nil when throttling is disabled or redis is absent.
func NewMessageLimiter(cfg config.Config, client *redis.Client) *MessageLimiter {
	if !cfg.RateLimit.Enabled || client == nil {
		return nil
	}
	if cfg.RateLimit.MessageRate <= 0 || cfg.RateLimit.MessageBurst <= 0 {
		return nil
	}
	return &MessageLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.MessageRate,
		burst:  cfg.RateLimit.MessageBurst,
	}
}

func (l *MessageLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowUser takes one token from the user's bucket.
func (l *MessageLimiter) AllowUser(ctx context.Context, userID int64) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUserMessages, userID), l.rate, l.burst)
}

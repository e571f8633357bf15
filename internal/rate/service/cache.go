package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/cache"
	"github.com/EF-corp/AgroBotTg/internal/config"
	"github.com/EF-corp/AgroBotTg/internal/rate/domain"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyRate = "agrobot:rate:"

// Cache is a read-through cache in front of the rates table.
type Cache interface {
	Get(ctx context.Context, name string) (domain.Rate, bool)
	Set(ctx context.Context, rate domain.Rate)
	Invalidate(ctx context.Context, name string)
}

// NewCache prefers redis so replicas share invalidations, falling back to process memory.
func NewCache(cfg config.Config, client *redis.Client, log *zap.Logger) Cache {
	ttl := cfg.RateCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if client == nil {
		return &memoryCache{items: cache.NewTTLCache[string, domain.Rate](), ttl: ttl}
	}
	return &redisCache{client: client, ttl: ttl, log: log.Named("rate.cache")}
}

type memoryCache struct {
	items cache.Cache[string, domain.Rate]
	ttl   time.Duration
}

func (c *memoryCache) Get(_ context.Context, name string) (domain.Rate, bool) {
	return c.items.Get(name)
}

func (c *memoryCache) Set(_ context.Context, rate domain.Rate) {
	c.items.Set(rate.Name, rate, c.ttl)
}

func (c *memoryCache) Invalidate(_ context.Context, name string) {
	c.items.Delete(name)
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func (c *redisCache) Get(ctx context.Context, name string) (domain.Rate, bool) {
	raw, err := c.client.Get(ctx, keyRate+name).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("rate cache read failed", zap.String("rate", name), zap.Error(err))
		}
		return domain.Rate{}, false
	}
	var rate domain.Rate
	if err := json.Unmarshal(raw, &rate); err != nil {
		return domain.Rate{}, false
	}
	return rate, true
}

func (c *redisCache) Set(ctx context.Context, rate domain.Rate) {
	raw, err := json.Marshal(rate)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyRate+rate.Name, raw, c.ttl).Err(); err != nil {
		c.log.Warn("rate cache write failed", zap.String("rate", rate.Name), zap.Error(err))
	}
}

func (c *redisCache) Invalidate(ctx context.Context, name string) {
	if err := c.client.Del(ctx, keyRate+name).Err(); err != nil {
		c.log.Warn("rate cache invalidate failed", zap.String("rate", name), zap.Error(err))
	}
}

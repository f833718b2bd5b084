package contextwindow

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"clinicalcore/internal/config"
	"clinicalcore/internal/observability"
)

const summaryCacheTTL = 24 * time.Hour

// RedisSummaryCache backs SummaryCache with go-redis, shared across
// replicas so a retried turn on a different worker reuses a computed
// summary instead of recomputing it.
type RedisSummaryCache struct {
	client *redis.Client
}

// NewRedisSummaryCache connects to Redis per cfg; returns nil, false if
// caching is disabled (no REDIS_ADDR configured).
func NewRedisSummaryCache(cfg config.RedisConfig) (*RedisSummaryCache, bool) {
	if !cfg.Enabled {
		return nil, false
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisSummaryCache{client: client}, true
}

func (c *RedisSummaryCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, "ctxsummary:"+key).Result()
	if err != nil {
		if err != redis.Nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("key", key).Msg("context_summary_cache_get_failed")
		}
		return "", false
	}
	return val, true
}

func (c *RedisSummaryCache) Set(ctx context.Context, key, summary string) {
	if err := c.client.Set(ctx, "ctxsummary:"+key, summary, summaryCacheTTL).Err(); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("key", key).Msg("context_summary_cache_set_failed")
	}
}

func (c *RedisSummaryCache) Close() error {
	return c.client.Close()
}

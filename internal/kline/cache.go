package kline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache is a short-TTL advisory cache for candle windows, keyed by the full
// canonical request. A nil *Cache is a no-op, so Redis stays optional.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a candle cache. Returns nil when client is nil.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = 15 * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

// Get retrieves cached bars. A miss or any Redis error returns ok=false; the
// caller falls through to the upstream.
func (c *Cache) Get(ctx context.Context, key string) ([]Bar, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("Kline cache get error - treating as miss")
		}
		return nil, false
	}

	var bars []Bar
	if err := json.Unmarshal([]byte(cached), &bars); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached klines")
		return nil, false
	}
	return bars, true
}

// Set stores bars with the configured TTL. Failures are logged, never fatal.
func (c *Cache) Set(ctx context.Context, key string, bars []Bar) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(bars)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to marshal klines for cache")
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Kline cache set error")
	}
}

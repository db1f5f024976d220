package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"farmstall/backend/internal/domain"
)

type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatsCache(client *redis.Client, ttl time.Duration) *RedisStatsCache {
	return &RedisStatsCache{client: client, ttl: ttl}
}

func (c *RedisStatsCache) Get(ctx context.Context, key string) (*domain.RangeStats, error) {
	payload, err := c.client.Get(ctx, c.cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var stats domain.RangeStats
	if err := json.Unmarshal(payload, &stats); err != nil {
		return nil, fmt.Errorf("decode cached stats: %w", err)
	}
	return &stats, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, key string, stats *domain.RangeStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := c.client.Set(ctx, c.cacheKey(key), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisStatsCache) cacheKey(key string) string {
	return "stats:" + key
}

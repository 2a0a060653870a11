package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fueldesk/backend/internal/domain"
)

const keyPrefix = "fueldesk:stats:"

type RedisStatsCache struct {
	client *redis.Client
}

func NewRedisStatsCache(addr string, password string, db int) *RedisStatsCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStatsCache{client: client}
}

func (c *RedisStatsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStatsCache) Close() error {
	return c.client.Close()
}

func key(unit domain.BusinessUnit) string {
	return keyPrefix + string(unit)
}

func (c *RedisStatsCache) Get(ctx context.Context, unit domain.BusinessUnit) (*domain.StatsSnapshot, bool, error) {
	val, err := c.client.Get(ctx, key(unit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap domain.StatsSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, unit domain.BusinessUnit, value *domain.StatsSnapshot, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(unit), payload, ttl).Err()
}

func (c *RedisStatsCache) Invalidate(ctx context.Context, unit domain.BusinessUnit) error {
	return c.client.Del(ctx, key(unit)).Err()
}

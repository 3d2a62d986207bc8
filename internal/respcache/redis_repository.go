package respcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

// redisKeyPrefix namespaces forecast entries in a shared Redis instance.
const redisKeyPrefix = "weather:"

// RedisRepository is a Redis-backed implementation of Repository. Expiry is
// delegated to Redis TTLs, so PurgeExpired has nothing to sweep.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a response cache over a Redis client.
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

// Get returns the cached samples if the key is still live.
func (r *RedisRepository) Get(ctx context.Context, provider string, coord geo.Coordinate, window weather.Window) ([]weather.Datum, bool, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+Key(provider, coord, window)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read weather cache: %w", err)
	}

	var data []weather.Datum
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return nil, false, fmt.Errorf("decode cached forecast: %w", err)
	}
	return data, true, nil
}

// Put upserts a cache entry with TTL = expiry - now.
func (r *RedisRepository) Put(ctx context.Context, provider string, coord geo.Coordinate, window weather.Window, data []weather.Datum, expires time.Time) error {
	ttl := time.Until(expires)
	if ttl <= 0 {
		return ErrPastExpiry
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}

	if err := r.client.Set(ctx, redisKeyPrefix+Key(provider, coord, window), payload, ttl).Err(); err != nil {
		return fmt.Errorf("write weather cache: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis evicts expired keys itself.
func (r *RedisRepository) PurgeExpired(_ context.Context) (int64, error) {
	return 0, nil
}

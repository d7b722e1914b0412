package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "wfo/internal/errors"
)

// RedisCache represents Redis cache implementation
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(cfg *Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.NewAppError(apperrors.ErrCodeCacheConnection, "failed to connect to Redis", err).
			WithContext("addr", cfg.Addr)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get retrieves a value from cache
func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return missError(key)
	}
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "redis get failed", err).
			WithContext("key", key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "failed to decode cached value", err).
			WithContext("key", key)
	}
	return nil
}

// Set sets a value in cache with expiration
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "failed to encode value", err).
			WithContext("key", key)
	}
	if err := r.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "redis set failed", err).
			WithContext("key", key)
	}
	return nil
}

// Delete deletes a key from cache
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// HealthCheck performs a health check on Redis
func (r *RedisCache) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

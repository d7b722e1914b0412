package cache

import (
	"context"
	"time"

	apperrors "wfo/internal/errors"
	"wfo/internal/logger"
)

// Cacher defines the interface for cache operations. Values are stored as
// JSON; Get returns a CACHE_MISS error when the key is absent or expired.
type Cacher interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config represents cache configuration
type Config struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Addr          string        `yaml:"addr" json:"addr"`
	Password      string        `yaml:"password" json:"-"`
	DB            int           `yaml:"db" json:"db"`
	PoolSize      int           `yaml:"pool_size" json:"pool_size"`
	MemoryMaxSize int           `yaml:"memory_max_size" json:"memory_max_size"`
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
	Namespace     string        `yaml:"namespace" json:"namespace"`
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MemoryMaxSize: 10000,
		TTL:           24 * time.Hour,
		Namespace:     "default",
	}
}

// NewCacher creates a new cache instance based on configuration. With Redis
// enabled the result falls back to memory while Redis is unreachable.
func NewCacher(cfg Config, log logger.Logger) (Cacher, error) {
	memory := NewMemoryCache(cfg.MemoryMaxSize)
	if !cfg.Enabled {
		return memory, nil
	}

	redis, err := NewRedisCache(&cfg)
	if err != nil {
		log.Warn("Redis unavailable, using memory cache", "addr", cfg.Addr, "error", err)
		return memory, nil
	}
	return NewFallbackCache(redis, memory, log), nil
}

// IsMiss reports whether err means the key was not cached
func IsMiss(err error) bool {
	return apperrors.CodeOf(err) == apperrors.ErrCodeCacheMiss
}

func missError(key string) error {
	return apperrors.NewAppError(apperrors.ErrCodeCacheMiss, "cache miss", nil).WithContext("key", key)
}

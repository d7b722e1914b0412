package cache

import (
	"context"
	"sync"
	"time"

	"wfo/internal/logger"
)

// HealthChecker is implemented by caches that can report their health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// FallbackConfig defines fallback configuration
type FallbackConfig struct {
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	FailureThreshold    int           `json:"failure_threshold"`
	RecoveryThreshold   int           `json:"recovery_threshold"`
	CheckTimeout        time.Duration `json:"check_timeout"`
}

// DefaultFallbackConfig returns default fallback configuration
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		HealthCheckInterval: 30 * time.Second,
		FailureThreshold:    3,
		RecoveryThreshold:   2,
		CheckTimeout:        5 * time.Second,
	}
}

// FallbackCache reads and writes the primary cache until it fails
// FailureThreshold times in a row, then serves from the secondary until
// health checks succeed RecoveryThreshold times in a row.
type FallbackCache struct {
	primary   Cacher
	secondary Cacher
	config    FallbackConfig
	log       logger.Logger

	mu        sync.RWMutex
	fallback  bool
	failures  int
	successes int

	stop     chan struct{}
	stopOnce sync.Once
}

// NewFallbackCache creates a cache with the default fallback configuration
func NewFallbackCache(primary, secondary Cacher, log logger.Logger) *FallbackCache {
	return NewFallbackCacheWithConfig(primary, secondary, DefaultFallbackConfig(), log)
}

// NewFallbackCacheWithConfig creates a fallback cache and starts health monitoring
func NewFallbackCacheWithConfig(primary, secondary Cacher, config FallbackConfig, log logger.Logger) *FallbackCache {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = 1
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}
	fc := &FallbackCache{
		primary:   primary,
		secondary: secondary,
		config:    config,
		log:       log,
		stop:      make(chan struct{}),
	}
	if _, ok := primary.(HealthChecker); ok && config.HealthCheckInterval > 0 {
		go fc.healthLoop()
	}
	return fc
}

// InFallback reports whether the secondary cache is serving requests
func (fc *FallbackCache) InFallback() bool {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.fallback
}

// Get retrieves a value, using the secondary when the primary is down
func (fc *FallbackCache) Get(ctx context.Context, key string, dest interface{}) error {
	if !fc.InFallback() {
		err := fc.primary.Get(ctx, key, dest)
		if err == nil || IsMiss(err) {
			fc.recordSuccess()
			return err
		}
		fc.recordFailure("get", err)
	}
	return fc.secondary.Get(ctx, key, dest)
}

// Set stores a value, using the secondary when the primary is down
func (fc *FallbackCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !fc.InFallback() {
		err := fc.primary.Set(ctx, key, value, expiration)
		if err == nil {
			fc.recordSuccess()
			return nil
		}
		fc.recordFailure("set", err)
	}
	return fc.secondary.Set(ctx, key, value, expiration)
}

// Delete removes the key from both caches
func (fc *FallbackCache) Delete(ctx context.Context, key string) error {
	err := fc.secondary.Delete(ctx, key)
	if !fc.InFallback() {
		if perr := fc.primary.Delete(ctx, key); perr != nil {
			fc.recordFailure("delete", perr)
			return perr
		}
	}
	return err
}

// Close stops health monitoring and closes both caches
func (fc *FallbackCache) Close() error {
	fc.stopOnce.Do(func() { close(fc.stop) })
	err := fc.primary.Close()
	if serr := fc.secondary.Close(); err == nil {
		err = serr
	}
	return err
}

func (fc *FallbackCache) recordSuccess() {
	fc.mu.Lock()
	fc.failures = 0
	fc.mu.Unlock()
}

func (fc *FallbackCache) recordFailure(op string, err error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.failures++
	if !fc.fallback && fc.failures >= fc.config.FailureThreshold {
		fc.fallback = true
		fc.successes = 0
		fc.log.Warn("Primary cache failing, switching to fallback", "operation", op, "failures", fc.failures, "error", err)
	}
}

// checkHealth 探测主缓存，连续成功达到阈值后恢复
func (fc *FallbackCache) checkHealth() {
	checker, ok := fc.primary.(HealthChecker)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), fc.config.CheckTimeout)
	defer cancel()
	err := checker.HealthCheck(ctx)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if !fc.fallback {
		return
	}
	if err != nil {
		fc.successes = 0
		return
	}
	fc.successes++
	if fc.successes >= fc.config.RecoveryThreshold {
		fc.fallback = false
		fc.failures = 0
		fc.log.Info("Primary cache recovered")
	}
}

func (fc *FallbackCache) healthLoop() {
	ticker := time.NewTicker(fc.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fc.checkHealth()
		case <-fc.stop:
			return
		}
	}
}

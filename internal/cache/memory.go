package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	apperrors "wfo/internal/errors"
)

// MemoryCache implements an in-memory cache with TTL support
type MemoryCache struct {
	items    map[string]*memoryItem
	mu       sync.RWMutex
	maxSize  int
	stopChan chan struct{}
	stopped  bool

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	lastClean atomic.Int64
}

// memoryItem represents an item in memory cache
type memoryItem struct {
	value      []byte
	expiration time.Time
	accessed   atomic.Int64
}

// MemoryCacheStats represents memory cache statistics
type MemoryCacheStats struct {
	ItemCount     int       `json:"item_count"`
	MaxSize       int       `json:"max_size"`
	HitCount      int64     `json:"hit_count"`
	MissCount     int64     `json:"miss_count"`
	EvictionCount int64     `json:"eviction_count"`
	LastCleanup   time.Time `json:"last_cleanup"`
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}

	mc := &MemoryCache{
		items:    make(map[string]*memoryItem),
		maxSize:  maxSize,
		stopChan: make(chan struct{}),
	}

	go mc.cleanupLoop()

	return mc
}

// Get decodes the cached JSON value into dest
func (mc *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	mc.mu.RLock()
	item, exists := mc.items[key]
	mc.mu.RUnlock()

	if !exists || time.Now().After(item.expiration) {
		mc.misses.Add(1)
		return missError(key)
	}

	item.accessed.Store(time.Now().UnixNano())
	mc.hits.Add(1)
	if err := json.Unmarshal(item.value, dest); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "failed to decode cached value", err).
			WithContext("key", key)
	}
	return nil
}

// Set stores value as JSON. A non-positive expiration keeps the item for 24 hours.
func (mc *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeCacheOperation, "failed to encode value", err).
			WithContext("key", key)
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.items[key]; !exists && len(mc.items) >= mc.maxSize {
		mc.evictLRU()
	}

	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	item := &memoryItem{value: data, expiration: time.Now().Add(expiration)}
	item.accessed.Store(time.Now().UnixNano())
	mc.items[key] = item
	return nil
}

// Delete removes a value from memory cache
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.items, key)
	return nil
}

// Size returns the current number of items in the cache
func (mc *MemoryCache) Size() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return len(mc.items)
}

// GetStats returns memory cache statistics
func (mc *MemoryCache) GetStats() *MemoryCacheStats {
	stats := &MemoryCacheStats{
		ItemCount:     mc.Size(),
		MaxSize:       mc.maxSize,
		HitCount:      mc.hits.Load(),
		MissCount:     mc.misses.Load(),
		EvictionCount: mc.evictions.Load(),
	}
	if ts := mc.lastClean.Load(); ts > 0 {
		stats.LastCleanup = time.Unix(0, ts)
	}
	return stats
}

// evictLRU evicts the least recently used item; callers hold the write lock
func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldest int64
	first := true

	for key, item := range mc.items {
		if accessed := item.accessed.Load(); first || accessed < oldest {
			oldestKey = key
			oldest = accessed
			first = false
		}
	}

	if !first {
		delete(mc.items, oldestKey)
		mc.evictions.Add(1)
	}
}

// cleanupLoop runs periodic cleanup of expired items
func (mc *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.cleanup()
		case <-mc.stopChan:
			return
		}
	}
}

// cleanup removes expired items
func (mc *MemoryCache) cleanup() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	for key, item := range mc.items {
		if now.After(item.expiration) {
			delete(mc.items, key)
		}
	}
	mc.lastClean.Store(now.UnixNano())
}

// Close stops the cleanup goroutine
func (mc *MemoryCache) Close() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if !mc.stopped {
		close(mc.stopChan)
		mc.stopped = true
	}

	return nil
}

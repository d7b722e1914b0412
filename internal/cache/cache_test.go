package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfo/internal/testutils"
)

type payload struct {
	Name   string             `json:"name"`
	Values map[string]float64 `json:"values"`
}

func TestMemoryCache(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	cache := NewMemoryCache(100)
	defer cache.Close()
	ctx := context.Background()

	// 测试基本操作
	t.Run("basic operations", func(t *testing.T) {
		in := payload{Name: "trial", Values: map[string]float64{"sharpe": 1.5}}
		require.NoError(t, cache.Set(ctx, "key1", in, time.Minute))

		var out payload
		require.NoError(t, cache.Get(ctx, "key1", &out))
		assert.Equal(t, in, out)

		require.NoError(t, cache.Delete(ctx, "key1"))
		err := cache.Get(ctx, "key1", &out)
		assert.True(t, IsMiss(err))
	})

	// 测试过期
	t.Run("expiration", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "expire_key", "expire_value", 50*time.Millisecond))

		var value string
		require.NoError(t, cache.Get(ctx, "expire_key", &value))
		assert.Equal(t, "expire_value", value)

		time.Sleep(80 * time.Millisecond)
		assert.True(t, IsMiss(cache.Get(ctx, "expire_key", &value)))
	})

	t.Run("decode error", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "text", "abc", time.Minute))
		var n int
		err := cache.Get(ctx, "text", &n)
		require.Error(t, err)
		assert.False(t, IsMiss(err))
	})

	// 测试容量限制
	t.Run("capacity limit", func(t *testing.T) {
		small := NewMemoryCache(2)
		defer small.Close()

		require.NoError(t, small.Set(ctx, "k1", "v1", time.Minute))
		time.Sleep(time.Millisecond)
		require.NoError(t, small.Set(ctx, "k2", "v2", time.Minute))
		time.Sleep(time.Millisecond)
		require.NoError(t, small.Set(ctx, "k3", "v3", time.Minute))

		var v string
		assert.True(t, IsMiss(small.Get(ctx, "k1", &v)), "k1 should have been evicted")
		assert.NoError(t, small.Get(ctx, "k2", &v))
		assert.NoError(t, small.Get(ctx, "k3", &v))
		assert.Equal(t, 2, small.Size())

		stats := small.GetStats()
		assert.Equal(t, int64(1), stats.EvictionCount)
		assert.Equal(t, int64(2), stats.HitCount)
		assert.Equal(t, int64(1), stats.MissCount)
	})
}

func TestNewCacherDisabled(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	cfg := DefaultConfig()
	c, err := NewCacher(cfg, suite.Logger)
	require.NoError(t, err)
	defer c.Close()
	assert.IsType(t, &MemoryCache{}, c)
}

func TestNewCacherUnreachableRedis(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Addr = "127.0.0.1:1"
	c, err := NewCacher(cfg, suite.Logger)
	require.NoError(t, err)
	defer c.Close()
	assert.IsType(t, &MemoryCache{}, c)
}

// 需要真实Redis：WFO_TEST_REDIS_ADDR=localhost:6379
func TestRedisCache(t *testing.T) {
	addr := os.Getenv("WFO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WFO_TEST_REDIS_ADDR not set")
	}

	cfg := DefaultConfig()
	cfg.Addr = addr
	cache, err := NewRedisCache(&cfg)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	key := fmt.Sprintf("wfo:test:%d", time.Now().UnixNano())
	defer cache.Delete(ctx, key)

	var out payload
	assert.True(t, IsMiss(cache.Get(ctx, key, &out)))

	in := payload{Name: "redis", Values: map[string]float64{"return": 0.1}}
	require.NoError(t, cache.Set(ctx, key, in, time.Minute))
	require.NoError(t, cache.Get(ctx, key, &out))
	assert.Equal(t, in, out)
	assert.NoError(t, cache.HealthCheck(ctx))
}

func BenchmarkMemoryCache(b *testing.B) {
	testutils.RunBenchmark(b, "MemoryCache_Set_Get", nil, func(b *testing.B, suite *testutils.BenchmarkSuite) {
		cache := NewMemoryCache(10000)
		defer cache.Close()
		ctx := context.Background()

		for i := 0; i < b.N; i++ {
			key := fmt.Sprintf("key-%d", suite.Data.RandomInt(0, 5000))
			cache.Set(ctx, key, suite.Data.RandomFloat(0, 1), time.Minute)
			var v float64
			cache.Get(ctx, key, &v)
		}
	})
}

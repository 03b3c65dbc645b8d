package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/crewflow/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	mr := miniredis.RunT(t)

	config := Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}

	manager, err := NewManager(config, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t)

	assert.NotNil(t, manager.redis)
	assert.NotNil(t, manager.Client())
	assert.NoError(t, manager.Ping(context.Background()))
}

func TestNewManager_Unreachable(t *testing.T) {
	manager, err := NewManager(Config{Addr: "localhost:1"}, zap.NewNop())
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestFromRedisConfig(t *testing.T) {
	rc := config.DefaultRedisConfig()
	rc.Addr = "redis:6379"
	rc.DB = 3
	rc.PoolSize = 0

	cfg := FromRedisConfig(rc)
	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, DefaultConfig().PoolSize, cfg.PoolSize)
	assert.Equal(t, rc.HealthCheckInterval, cfg.HealthCheckInterval)
}

func TestFromRedisConfig_TLS(t *testing.T) {
	rc := config.DefaultRedisConfig()
	rc.Addr = "redis.internal:6380"
	assert.Nil(t, FromRedisConfig(rc).TLSConfig)

	rc.TLS = true
	cfg := FromRedisConfig(rc)
	require.NotNil(t, cfg.TLSConfig)
	assert.Equal(t, "redis.internal", cfg.TLSConfig.ServerName)
	assert.False(t, cfg.TLSConfig.InsecureSkipVerify)
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Minute))
	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	// ttl 为 0 使用默认值, 负数不过期
	require.NoError(t, manager.Set(ctx, "default-ttl", "v", 0))
	assert.Equal(t, time.Minute, mr.TTL("default-ttl"))
	require.NoError(t, manager.Set(ctx, "forever", "v", -1))
	assert.Zero(t, mr.TTL("forever"))

	_, err = manager.Get(ctx, "missing")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_JSON(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	type payload struct {
		RunID  string `json:"run_id"`
		Output string `json:"output"`
	}
	require.NoError(t, manager.SetJSON(ctx, "job:1", payload{RunID: "r1", Output: "done"}, time.Minute))

	var got payload
	require.NoError(t, manager.GetJSON(ctx, "job:1", &got))
	assert.Equal(t, payload{RunID: "r1", Output: "done"}, got)

	assert.Error(t, manager.SetJSON(ctx, "bad", make(chan int), time.Minute))

	require.NoError(t, manager.Set(ctx, "not-json", "{", time.Minute))
	assert.Error(t, manager.GetJSON(ctx, "not-json", &got))

	assert.True(t, IsCacheMiss(manager.GetJSON(ctx, "missing", &got)))
}

func TestManager_Push(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Push(ctx, "results", "a", "b"))
	require.NoError(t, manager.Push(ctx, "results"))

	items, err := mr.List("results")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
}

func TestManager_ExistsExpire(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, manager.Set(ctx, "b", "2", time.Minute))

	n, err := manager.Exists(ctx, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, manager.Expire(ctx, "a", 100*time.Millisecond))
	mr.FastForward(200 * time.Millisecond)
	_, err = manager.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	n, err = manager.Exists(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
	assert.ErrorIs(t, manager.Push(ctx, "l", "v"), ErrClosed)
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
	_, err = manager.Exists(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Expire(ctx, "k", time.Second), ErrClosed)
}

func TestManager_HealthCheckLoopStops(t *testing.T) {
	mr := miniredis.RunT(t)
	manager, err := NewManager(Config{Addr: mr.Addr(), HealthCheckInterval: 5 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, manager.Close())
}

func TestManager_ConcurrentOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-%d", id)
			assert.NoError(t, manager.Set(ctx, key, "value", time.Minute))
			value, err := manager.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, "value", value)
		}(i)
	}
	wg.Wait()
}

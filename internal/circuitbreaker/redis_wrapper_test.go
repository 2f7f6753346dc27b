package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "test", RedisSettings(), zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, wrapper.Ping(ctx))
	require.NoError(t, wrapper.Set(ctx, "test:key", "test:value", time.Minute))

	val, err := wrapper.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.Equal(t, "test:value", val)

	s.FastForward(2 * time.Minute)
	_, err = wrapper.Get(ctx, "test:key")
	assert.ErrorIs(t, err, redis.Nil, "value expires with its ttl")
}

func TestRedisWrapper_RedisNilHandling(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "test", RedisSettings(), zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := wrapper.Get(ctx, "nonexistent:key")
		assert.ErrorIs(t, err, redis.Nil)
	}
	assert.False(t, wrapper.IsCircuitBreakerOpen(), "redis.Nil is not a failure")
}

func TestRedisWrapper_CircuitBreakerTriggering(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	addr := s.Addr()
	s.Close()

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	settings := RedisSettings()
	settings.FailureThreshold = 3
	wrapper := NewRedisWrapper(client, "test", settings, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Error(t, wrapper.Ping(ctx))
	}
	require.True(t, wrapper.IsCircuitBreakerOpen())

	_, err = wrapper.Get(ctx, "any:key")
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

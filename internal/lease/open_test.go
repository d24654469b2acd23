package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushengine/internal/config"
)

func TestOpen_MemoryWhenNoAddr(t *testing.T) {
	store, err := Open(context.Background(), "local", config.RedisConfig{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "memory", store.Backend)
	assert.IsType(t, &MemoryLocker{}, store.Locker)
	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, store.Close())
}

func TestOpen_DeployedEnvironmentNeedsRedis(t *testing.T) {
	for _, env := range []string{"dev", "staging", "prod"} {
		t.Run(env, func(t *testing.T) {
			store, err := Open(context.Background(), env, config.RedisConfig{}, nil)
			require.ErrorIs(t, err, ErrNoSharedStore)
			assert.Nil(t, store)
		})
	}
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := Open(ctx, "prod", config.RedisConfig{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.Equal(t, "redis", store.Backend)
	require.NoError(t, store.Ping(ctx))

	l, err := store.Locker.Acquire(ctx, JobKey("job_1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists(JobKey("job_1")))
	require.NoError(t, l.Release(ctx))
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(context.Background(), "dev", config.RedisConfig{Addr: addr}, nil)
	assert.ErrorContains(t, err, "connecting to lease store")
}

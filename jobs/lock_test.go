package jobs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when REDIS_URL is set.
func TestRedisLock(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}

	ctx := context.Background()
	lock, err := DialRedisLock(ctx, redisURL)
	require.NoError(t, err)
	defer lock.Close()
	lock.key = "cpi:test:lock:" + t.Name()
	defer lock.client.Del(ctx, lock.key)

	ok, err := lock.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Acquire(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, "b"))
	ok, err = lock.Acquire(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, "a"))
	ok, err = lock.Acquire(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

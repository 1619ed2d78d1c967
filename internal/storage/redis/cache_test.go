package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := NewClient("redis://" + mr.Addr())
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestJSONRoundTrip(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, client.SetJSON(ctx, "k", payload{Name: "batch", Count: 3}, time.Minute))

	var got payload
	require.NoError(t, client.GetJSON(ctx, "k", &got))
	assert.Equal(t, payload{Name: "batch", Count: 3}, got)
}

func TestMXCache(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	_, found, err := client.CachedMX(ctx, "example.com")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.CacheMX(ctx, "example.com", true, time.Hour))
	require.NoError(t, client.CacheMX(ctx, "nomx.test", false, time.Hour))

	hasMX, found, err := client.CachedMX(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, hasMX)

	hasMX, found, err = client.CachedMX(ctx, "nomx.test")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, hasMX)

	mr.FastForward(2 * time.Hour)
	_, found, err = client.CachedMX(ctx, "example.com")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLockExclusive(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	first := client.NewLock("job:1", time.Minute)
	second := client.NewLock("job:1", time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// A non-owner release leaves the lock in place.
	require.NoError(t, second.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExtend(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	owner := client.NewLock("job:2", time.Minute)
	other := client.NewLock("job:2", time.Minute)

	ok, err := owner.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(50 * time.Second)
	ok, err = owner.Extend(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("lock:job:2"))

	ok, err = other.Extend(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = owner.Extend(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "an expired lock is not revived")
}

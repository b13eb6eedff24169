package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheService(NewRedisCacheFromClient(client), time.Hour), mr
}

func TestCacheService_GenerateCacheKey(t *testing.T) {
	cache, _ := newTestCache(t)
	assert.Equal(t, "count:followers:alice", cache.GenerateCacheKey(CacheKeyCount, "followers", "Alice"))
	assert.Equal(t, "extraction:progress:job-1", cache.ProgressChannel("job-1"))
}

func TestCacheService_Counts(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := testContext(t)

	_, ok, err := cache.GetCount(ctx, "followers:alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.SetCount(ctx, "followers:alice", 1234, time.Minute))

	n, ok, err := cache.GetCount(ctx, "followers:alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1234), n)

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.GetCount(ctx, "followers:alice")
	require.NoError(t, err)
	assert.False(t, ok, "count should expire")
}

func TestCacheService_CorruptCount(t *testing.T) {
	cache, mr := newTestCache(t)
	require.NoError(t, mr.Set("count:followers:bob", "lots"))

	_, _, err := cache.GetCount(testContext(t), "followers:bob")
	assert.Error(t, err)
}

func TestCacheService_PublishProgress(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := testContext(t)

	sub := cache.redis.Subscribe(ctx, cache.ProgressChannel("job-1"))
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	require.NoError(t, cache.PublishProgress(ctx, "job-1", 42))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var event ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, int64(42), event.Progress)

	latest, ok, err := cache.LatestProgress(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), latest.Progress)

	_, ok, err = cache.LatestProgress(ctx, "job-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://"+s.Addr(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	_, found, err := cache.Get(ctx, "shp_1")
	require.NoError(t, err)
	assert.False(t, found)

	summary := Summary{
		NumberViews:    2,
		OutboundClicks: []ClickCount{{URL: "a", Count: 1}},
		Sessions:       []Session{{Start: 10, End: SessionEndUnset, Length: 1, Payload: map[string]any{"city": "Lyon"}}},
	}
	require.NoError(t, cache.Set(ctx, "shp_1", summary))

	got, found, err := cache.Get(ctx, "shp_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, summary, got)
}

func TestRedisCacheInvalidateAndExpiry(t *testing.T) {
	cache, s := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "shp_1", Summary{NumberViews: 1}))
	require.NoError(t, cache.Invalidate(ctx, "shp_1"))
	_, found, err := cache.Get(ctx, "shp_1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "shp_2", Summary{NumberViews: 1}))
	s.FastForward(2 * time.Minute)
	_, found, err = cache.Get(ctx, "shp_2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheCorruptEntry(t *testing.T) {
	cache, s := setupTestCache(t)
	require.NoError(t, s.Set("analytics:bad", "{not json"))
	_, _, err := cache.Get(context.Background(), "bad")
	assert.Error(t, err)
}

func TestNewRedisCacheBadURL(t *testing.T) {
	_, err := NewRedisCache("://nope", time.Minute)
	assert.Error(t, err)
}

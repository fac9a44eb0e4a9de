package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/defi-lending-api/internal/config"
	"github.com/web3-frozen/defi-lending-api/internal/logging"
)

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemoryCache()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(2 * time.Minute)
	_, ok = m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, m.Len())
}

func TestMemoryCacheNoTTLNeverExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemoryCache()
	m.now = func() time.Time { return now }
	require.NoError(t, m.Set(context.Background(), "k", []byte("v"), 0))
	now = now.Add(24 * time.Hour)
	_, ok := m.Get(context.Background(), "k")
	assert.True(t, ok)
}

func TestMemoryCacheSweepsExpiredOnSet(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemoryCache()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "old", []byte("1"), time.Second))
	now = now.Add(2 * time.Minute)
	require.NoError(t, m.Set(ctx, "new", []byte("2"), time.Minute))
	assert.Equal(t, 1, m.Len())
}

func TestNewCacheFallsBackToMemory(t *testing.T) {
	log := logging.Discard()
	assert.Equal(t, "memory", NewCache(config.Config{}, log).Backend())
	assert.Equal(t, "memory", NewCache(config.Config{RedisURL: "::not a url"}, log).Backend())
}

func TestMemoryCacheIsBounded(t *testing.T) {
	m := NewMemoryCacheSize(3)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute))
	}
	assert.Equal(t, 3, m.Len())

	_, ok := m.Get(ctx, "k0")
	assert.False(t, ok, "oldest entries are evicted")
	_, ok = m.Get(ctx, "k9")
	assert.True(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	m := NewMemoryCacheSize(2)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Minute))
	_, ok := m.Get(ctx, "a")
	require.True(t, ok)

	require.NoError(t, m.Set(ctx, "c", []byte("3"), time.Minute))
	_, ok = m.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = m.Get(ctx, "b")
	assert.False(t, ok)
}

func TestNewCacheUsesConfiguredSize(t *testing.T) {
	c := NewCache(config.Config{ResponseCacheMaxEntries: 2}, logging.Discard())
	m, ok := c.(*MemoryCache)
	require.True(t, ok)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, m.Set(ctx, k, []byte("v"), time.Minute))
	}
	assert.Equal(t, 2, m.Len())
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/blog-accounts/internal/repository"
)

func newTestCache(t *testing.T, maxEntries int) (*Cache, *time.Time) {
	t.Helper()

	c := NewCache(maxEntries)
	t.Cleanup(c.Stop)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 0)

	_, err := c.Get(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrCacheMiss)

	value := []byte("hello")
	require.NoError(t, c.Set(ctx, "k", value, 0))
	value[0] = 'j'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, now := newTestCache(t, 0)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	*now = now.Add(30 * time.Second)
	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, repository.ErrCacheMiss)
	require.Equal(t, 0, c.Len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 2)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	// Touch a so b becomes the eviction candidate.
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))
	require.Equal(t, 2, c.Len())

	_, err = c.Get(ctx, "b")
	require.ErrorIs(t, err, repository.ErrCacheMiss)
	_, err = c.Get(ctx, "a")
	require.NoError(t, err)
}

func TestCache_SetNXAndTake(t *testing.T) {
	ctx := context.Background()
	c, now := newTestCache(t, 0)

	ok, err := c.SetNX(ctx, "state", []byte("x"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.SetNX(ctx, "state", []byte("y"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := c.Take(ctx, "state")
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got)

	_, err = c.Take(ctx, "state")
	require.ErrorIs(t, err, repository.ErrCacheMiss)

	// An expired entry no longer blocks SetNX.
	require.NoError(t, c.Set(ctx, "old", []byte("1"), time.Second))
	*now = now.Add(2 * time.Second)
	ok, err = c.SetNX(ctx, "old", []byte("2"), 0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCache_Delete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 0)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "missing"))
	require.Equal(t, 1, c.Len())
}

package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestValkey(t *testing.T, ttl time.Duration) *ValkeyStore {
	t.Helper()
	server := miniredis.RunT(t)
	store, err := NewValkey(ValkeyConfig{Address: server.Addr()}, Options{TTL: ttl, MaxBytes: 10 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestValkeyStoreRoundTrip(t *testing.T) {
	store := newTestValkey(t, time.Hour)
	ctx := context.Background()

	envelope := successEnvelope("cached text")
	entry := NewEntry(testSpec(), envelope, time.Now())
	require.NoError(t, store.Set(ctx, "abc", entry))

	got, ok, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, envelope, got.Response)

	_, ok, err = store.Get(ctx, "absent")
	require.NoError(t, err)
	require.False(t, ok)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.Equal(t, int64(1), stats.Writes)
	require.Equal(t, int64(1), stats.Entries)
}

func TestValkeyStoreServerSideExpiry(t *testing.T) {
	server := miniredis.RunT(t)
	store, err := NewValkey(ValkeyConfig{Address: server.Addr()}, Options{TTL: time.Minute, MaxBytes: 10 << 20})
	require.NoError(t, err)
	defer store.Close(context.Background())
	ctx := context.Background()

	entry := NewEntry(testSpec(), successEnvelope("x"), time.Now())
	require.NoError(t, store.Set(ctx, "key", entry))

	_, ok, err := store.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, ok)

	server.FastForward(2 * time.Minute)

	_, ok, err = store.Get(ctx, "key")
	require.NoError(t, err)
	require.False(t, ok, "server-side TTL must expire the entry")
}

func TestValkeyStoreRejectsFailedEnvelope(t *testing.T) {
	store := newTestValkey(t, time.Hour)

	failed := NewEntry(testSpec(), successEnvelope("x"), time.Now())
	failed.Response.Success = false
	require.ErrorIs(t, store.Set(context.Background(), "key", failed), ErrFailedEnvelope)
}

func TestValkeyStoreClear(t *testing.T) {
	store := newTestValkey(t, time.Hour)
	ctx := context.Background()

	entry := NewEntry(testSpec(), successEnvelope("x"), time.Now())
	require.NoError(t, store.Set(ctx, "a", entry))
	require.NoError(t, store.Set(ctx, "b", entry))

	require.NoError(t, store.Clear(ctx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Entries)
	require.Zero(t, stats.Writes)

	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewValkeyRequiresReachableServer(t *testing.T) {
	_, err := NewValkey(ValkeyConfig{}, Options{TTL: time.Hour, MaxBytes: 1})
	require.Error(t, err)

	_, err = NewValkey(ValkeyConfig{Address: "127.0.0.1:1"}, Options{TTL: time.Hour, MaxBytes: 1})
	require.Error(t, err)
}

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, opts Options) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, opts), mr
}

func TestAcquireAndRelease(t *testing.T) {
	locker, mr := newTestLocker(t, Options{TTL: time.Second})
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "bom:floorplan:1:variant:2:lock")
	require.NoError(t, err)
	require.True(t, mr.Exists("bom:floorplan:1:variant:2:lock"))

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists("bom:floorplan:1:variant:2:lock"))
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	locker, _ := newTestLocker(t, Options{TTL: time.Minute, Wait: 60 * time.Millisecond, Retry: 10 * time.Millisecond})
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)
	defer func() { _ = release(ctx) }()

	_, err = locker.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrNotAcquired)
}

func TestReleaseDoesNotDropForeignLock(t *testing.T) {
	locker, mr := newTestLocker(t, Options{TTL: time.Second})
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	// Simulate expiry followed by another owner taking the key.
	mr.Del("k")
	require.NoError(t, mr.Set("k", "someone-else"))

	require.NoError(t, release(ctx))
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestAcquireHonoursContext(t *testing.T) {
	locker, _ := newTestLocker(t, Options{TTL: time.Minute, Wait: time.Minute, Retry: 10 * time.Millisecond})
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer func() { _ = release(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/jobfeed-client/internal/testutil"
)

func TestLock_AcquireRelease(t *testing.T) {
	client, _ := testutil.NewRedis(t)
	ctx := context.Background()

	first := NewLock(client, "", time.Minute)
	second := NewLock(client, "", time.Minute)

	release, err := first.Acquire(ctx)
	require.NoError(t, err)

	_, err = second.Acquire(ctx)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))

	releaseSecond, err := second.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, releaseSecond(ctx))
}

func TestLock_ReleaseKeepsForeignToken(t *testing.T) {
	client, server := testutil.NewRedis(t)
	ctx := context.Background()
	lock := NewLock(client, "lock:test", time.Second)

	release, err := lock.Acquire(ctx)
	require.NoError(t, err)

	// The TTL lapses and another instance takes over.
	server.FastForward(2 * time.Second)
	require.NoError(t, client.Set(ctx, "lock:test", "other-instance", time.Minute).Err())

	require.NoError(t, release(ctx))

	holder, err := client.Get(ctx, "lock:test").Result()
	require.NoError(t, err)
	assert.Equal(t, "other-instance", holder)
}

func TestLock_Expires(t *testing.T) {
	client, server := testutil.NewRedis(t)
	ctx := context.Background()
	lock := NewLock(client, "", 30*time.Second)

	_, err := lock.Acquire(ctx)
	require.NoError(t, err)

	server.FastForward(31 * time.Second)
	_, err = lock.Acquire(ctx)
	assert.NoError(t, err, "an abandoned lock frees itself")
}

func TestLock_LastRun(t *testing.T) {
	client, _ := testutil.NewRedis(t)
	ctx := context.Background()
	mine := NewLock(client, "", time.Minute)
	theirs := NewLock(client, "", time.Minute)

	at, own, err := mine.LastRun(ctx)
	require.NoError(t, err)
	assert.True(t, at.IsZero())
	assert.False(t, own)

	started := time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC)
	require.NoError(t, mine.MarkRun(ctx, started, time.Hour))

	at, own, err = mine.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, started, at)
	assert.True(t, own)

	at, own, err = theirs.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, started, at)
	assert.False(t, own)

	require.NoError(t, client.Set(ctx, DefaultLockKey+":last", "garbage", 0).Err())
	_, _, err = mine.LastRun(ctx)
	assert.Error(t, err)
}

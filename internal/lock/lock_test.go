package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunebridge/internal/errs"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestAcquireRelease(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	m := NewMutex(rdb, "playlist:1", 30*time.Second)
	require.NoError(t, m.Acquire(ctx))

	// Key exists with an expiry.
	ttl, err := rdb.TTL(ctx, "lock:playlist:1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	m.Release(ctx)
	exists, err := rdb.Exists(ctx, "lock:playlist:1").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestNonBlockingContention(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	first := NewMutex(rdb, "playlist:7", 30*time.Second)
	require.NoError(t, first.Acquire(ctx))

	second := NewMutex(rdb, "playlist:7", 30*time.Second)
	err := second.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsLockHeld(err))
	assert.True(t, errs.IsKind(err, errs.KindInfrastructure))

	// The loser must not have clobbered the holder's key.
	first.Release(ctx)
	require.NoError(t, second.Acquire(ctx))
}

func TestBlockingAcquiresAfterRelease(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	first := NewMutex(rdb, "conn:3", 30*time.Second)
	require.NoError(t, first.Acquire(ctx))

	released := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		first.Release(ctx)
		close(released)
	}()

	second := NewMutex(rdb, "conn:3", 30*time.Second,
		Blocking(2*time.Second), RetryInterval(10*time.Millisecond))
	require.NoError(t, second.Acquire(ctx))
	<-released
}

func TestBlockingTimesOut(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	first := NewMutex(rdb, "conn:9", 30*time.Second)
	require.NoError(t, first.Acquire(ctx))

	second := NewMutex(rdb, "conn:9", 30*time.Second,
		Blocking(50*time.Millisecond), RetryInterval(10*time.Millisecond))
	err := second.Acquire(ctx)
	require.Error(t, err)
	assert.False(t, errs.IsLockHeld(err))
	assert.True(t, errs.IsKind(err, errs.KindInfrastructure))

	var e *errs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "timeout", e.Detail["reason"])
}

func TestReleaseIdempotent(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	m := NewMutex(rdb, "playlist:2", time.Second)
	require.NoError(t, m.Acquire(ctx))

	m.Release(ctx)
	m.Release(ctx) // second release is a no-op

	// Releasing a never-acquired lock is also fine.
	other := NewMutex(rdb, "playlist:3", time.Second)
	other.Release(ctx)
}

func TestStoreUnreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	m := NewMutex(rdb, "playlist:4", time.Second)

	err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.False(t, errs.IsLockHeld(err))
	assert.True(t, errs.IsKind(err, errs.KindInfrastructure))
}

func TestWithLockReleasesOnError(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	m := NewMutex(rdb, "playlist:5", 30*time.Second)
	boom := errors.New("boom")
	err := m.WithLock(ctx, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// Lock was released despite the error.
	again := NewMutex(rdb, "playlist:5", 30*time.Second)
	require.NoError(t, again.Acquire(ctx))
}

package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, time.Second, nil), mr
}

func TestBOMRecalcLockKey(t *testing.T) {
	require.Equal(t, "bom:abc:recalc:lock", BOMRecalcLockKey("abc"))
}

func TestWithLockRunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t)
	key := BOMRecalcLockKey("b1")

	ran := false
	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		ran = true
		require.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, mr.Exists(key))
}

func TestWithLockSerializesCallers(t *testing.T) {
	locker, _ := newTestLocker(t)
	key := BOMRecalcLockKey("b2")

	inSection := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- locker.WithLock(context.Background(), key, func(ctx context.Context) error {
			close(inSection)
			<-release
			return nil
		})
	}()
	<-inSection

	second := make(chan error, 1)
	entered := time.Now()
	go func() {
		second <- locker.WithLock(context.Background(), key, func(ctx context.Context) error {
			return nil
		})
	}()

	time.Sleep(150 * time.Millisecond)
	close(release)
	require.NoError(t, <-done)
	require.NoError(t, <-second)
	require.GreaterOrEqual(t, time.Since(entered), 100*time.Millisecond)
}

func TestWithLockProceedsAfterContentionWindow(t *testing.T) {
	locker, mr := newTestLocker(t)
	locker.acquireWindow = 100 * time.Millisecond
	key := BOMRecalcLockKey("b3")

	require.NoError(t, mr.Set(key, "someone-else"))
	mr.SetTTL(key, time.Hour)

	ran := false
	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	// The foreign lease must survive; this caller never owned it.
	require.True(t, mr.Exists(key))
}

func TestWithLockNilLockerRunsDirectly(t *testing.T) {
	var locker *RedisLocker
	ran := false
	require.NoError(t, locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}

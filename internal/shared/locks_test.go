package shared

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLockerSerialisesSections(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewLocker(redislock.New(client), time.Second, 100*time.Millisecond)
	key := LedgerLockKey(7, "cost")
	require.Equal(t, "ledger:order:7:cost:lock", key)

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		inner := locker.WithLock(ctx, key, func(context.Context) error { return nil })
		require.ErrorIs(t, inner, ErrLockBusy)
		return nil
	})
	require.NoError(t, err)

	ran := false
	require.NoError(t, locker.WithLock(context.Background(), key, func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}

func TestNilLockerRunsSection(t *testing.T) {
	var locker *Locker
	called := false
	require.NoError(t, locker.WithLock(context.Background(), "k", func(context.Context) error {
		called = true
		return nil
	}))
	require.True(t, called)
}

package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// LedgerLockKey builds redis keys serialising writes to one table of an order.
func LedgerLockKey(orderID int64, itemType string) string {
	return fmt.Sprintf("ledger:order:%d:%s:lock", orderID, itemType)
}

// Locker runs critical sections under a Redis lock.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewLocker constructs a Locker. A nil client runs sections without locking.
func NewLocker(client *redislock.Client, ttl, wait time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Locker{client: client, ttl: ttl, wait: wait}
}

// WithLock obtains key, runs fn and releases the lock. Contention beyond the
// wait budget returns ErrLockBusy.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	attempts := int(l.wait / (50 * time.Millisecond))
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), attempts),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrLockBusy, key)
	}
	if err != nil {
		return fmt.Errorf("obtain lock %s: %w", key, err)
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}

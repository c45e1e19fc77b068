// Package lock provides a Redis-backed distributed mutex. It relies on
// the atomic SET NX EX primitive: the store, not the holder, is the
// authority on lock validity, so a crashed holder's lock self-heals
// once its expiry elapses.
package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tunebridge/internal/errs"
	"tunebridge/internal/logging"
)

const keyPrefix = "lock:"

// Mutex is a named, expiry-backed lock usable across independent
// processes. The expiry timeout must exceed the expected critical
// section duration.
type Mutex struct {
	rdb           redis.Cmdable
	name          string
	key           string
	timeout       time.Duration
	blocking      bool
	maxWait       time.Duration
	retryInterval time.Duration
	acquired      bool
}

// Option configures a Mutex.
type Option func(*Mutex)

// Blocking makes Acquire retry on a fixed interval until the lock is
// obtained or maxWait elapses. A maxWait of zero waits indefinitely
// (bounded only by the caller's context).
func Blocking(maxWait time.Duration) Option {
	return func(m *Mutex) {
		m.blocking = true
		m.maxWait = maxWait
	}
}

// RetryInterval overrides the pause between blocking retries.
func RetryInterval(d time.Duration) Option {
	return func(m *Mutex) {
		m.retryInterval = d
	}
}

// NewMutex creates a lock named name with the given expiry timeout.
// The default mode is non-blocking: a held lock fails immediately.
func NewMutex(rdb redis.Cmdable, name string, timeout time.Duration, opts ...Option) *Mutex {
	m := &Mutex{
		rdb:           rdb,
		name:          name,
		key:           keyPrefix + name,
		timeout:       timeout,
		retryInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire attempts to take the lock. In non-blocking mode a held lock
// fails immediately with a lock-held error; in blocking mode Acquire
// retries until success, maxWait, or context cancellation. Store
// failures surface as infrastructure errors distinct from contention.
func (m *Mutex) Acquire(ctx context.Context) error {
	start := time.Now()

	for {
		ok, err := m.rdb.SetNX(ctx, m.key, "1", m.timeout).Result()
		if err != nil {
			return errs.LockUnavailable(m.name, err)
		}
		if ok {
			m.acquired = true
			return nil
		}

		if !m.blocking {
			return errs.LockHeld(m.name)
		}

		if m.maxWait > 0 && time.Since(start) >= m.maxWait {
			return errs.LockTimeout(m.name, time.Since(start).Seconds())
		}

		select {
		case <-ctx.Done():
			return errs.LockUnavailable(m.name, ctx.Err())
		case <-time.After(m.retryInterval):
		}
	}
}

// Release deletes the lock key. It is idempotent: releasing an
// already-expired or never-acquired lock is not an error.
func (m *Mutex) Release(ctx context.Context) {
	if !m.acquired {
		return
	}
	m.acquired = false

	deleted, err := m.rdb.Del(ctx, m.key).Result()
	if err != nil {
		logging.Errorf("failed to release lock %s: %v", m.name, err)
		return
	}
	if deleted == 0 {
		logging.Warnf("lock key already expired: %s", m.name)
	}
}

// WithLock runs fn while holding the lock, releasing it on every exit
// path.
func (m *Mutex) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.Acquire(ctx); err != nil {
		return err
	}
	defer m.Release(ctx)
	return fn(ctx)
}

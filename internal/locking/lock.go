// Package locking serializes booking writes per professional and day.
package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired means another writer kept the professional/day lock for
// longer than the locker is willing to wait.
var ErrLockNotAcquired = errors.New("locking: lock not acquired")

// Locker guards the booking critical section. The database exclusion
// constraint stays the source of truth; the lock only cuts down on retries.
type Locker interface {
	WithProfessionalDayLock(ctx context.Context, professionalID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error
}

const (
	minBackoff = 10 * time.Millisecond
	maxBackoff = 200 * time.Millisecond
)

// RedisLocker implements Locker with SET NX and a token-checked release. A
// contended key is retried with backoff for up to wait, so writers for
// different times on the same day queue up instead of failing.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker holds keys for ttl and waits up to ttl for a held key.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, wait: ttl}
}

// WithWait bounds how long a contended acquire retries. Zero means a single
// attempt.
func (l *RedisLocker) WithWait(wait time.Duration) *RedisLocker {
	if wait < 0 {
		wait = 0
	}
	l.wait = wait
	return l
}

// Key returns the redis key for one professional day.
func Key(professionalID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("lock:booking:%s:%s", professionalID, day.Format("2006-01-02"))
}

func (l *RedisLocker) WithProfessionalDayLock(ctx context.Context, professionalID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	key := Key(professionalID, day)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	defer func() {
		// release on a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	lockedCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(lockedCtx)
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	backoff := minBackoff
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("locking: acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrLockNotAcquired
		}
		pause := min(backoff, remaining)
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("locking: acquire %s: %w", key, ctx.Err())
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) release(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("locking: release %s: %w", key, err)
	}
	return nil
}

// NoopLocker runs fn directly. Used when BOOKING_LOCK_ENABLED is off.
type NoopLocker struct{}

func (NoopLocker) WithProfessionalDayLock(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

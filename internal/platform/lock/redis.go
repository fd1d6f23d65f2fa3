// Package lock provides a Redis mutex used to run at most one dunning pass per tenant.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// ErrHeld is returned when another holder owns the key.
var ErrHeld = errors.New("lock held by another holder")

// Locker acquires token-guarded locks with SET NX.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

// NewLocker returns nil when client is nil; a nil Locker runs fn without locking.
func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, script: redis.NewScript(releaseScript)}
}

// TryLock attempts to take key for ttl and returns the release token.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("platform/lock: empty key")
	}
	if ttl <= 0 {
		return "", false, errors.New("platform/lock: ttl must be positive")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("platform/lock: acquire %s: %w", key, err)
	}
	return token, ok, nil
}

// Release deletes key only when token still owns it.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	if err := l.script.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("platform/lock: release %s: %w", key, err)
	}
	return nil
}

// WithLock runs fn while holding key. It returns ErrHeld without calling fn
// when the key is taken.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}
	token, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrHeld
	}
	defer func() {
		// Release on a fresh context so a cancelled job still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.Release(releaseCtx, key, token)
	}()
	return fn(ctx)
}

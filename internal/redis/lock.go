package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("reconcile lock not acquired")
)

// Locker serializes slot reconciliation per location. Two reconcile runs for
// the same location must never interleave; the second caller gets
// ErrLockNotAcquired and retries later instead of waiting.
type Locker interface {
	WithLocationLock(ctx context.Context, locationID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisLocationLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocationLocker creates a locker that uses a per location Redis key.
func NewRedisLocationLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocationLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisLocationLocker) WithLocationLock(ctx context.Context, locationID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:reconcile:%s", locationID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire reconcile lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocationLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release reconcile lock: %w", err)
	}
	return nil
}

package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ============================================================================
// Redis distributed lock
// ============================================================================
//
// Acquire: SET key token NX PX ttl
//   - NX keeps the lock exclusive
//   - the ttl releases a lock whose holder crashed
//   - token identifies the holder so Unlock never deletes someone else's lock
//
// Release: a Lua script compares the token and deletes in one step.
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("lock: could not acquire lock before deadline")
	ErrLockExpired = errors.New("lock: lock expired before release")
)

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock is a single key lock held in Redis.
type DistributedLock struct {
	client     redis.Cmdable
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client redis.Cmdable, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes one non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval until it succeeds or ctx is done.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration) error {
	for {
		ok, err := l.TryLock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ErrLockFailed
			}
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrLockFailed
		case <-time.After(retryInterval):
		}
	}
}

// Unlock releases the lock if it is still ours.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockExpired
	}
	return nil
}

// RedisLocker hands out DistributedLocks, one per key.
type RedisLocker struct {
	client        redis.Cmdable
	ttl           time.Duration
	retryInterval time.Duration
}

func NewRedisLocker(client redis.Cmdable, ttl, retryInterval time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retryInterval: retryInterval}
}

func (r *RedisLocker) Obtain(ctx context.Context, key string) (Lease, error) {
	l := NewDistributedLock(r.client, key, uuid.NewString(), r.ttl)
	if err := l.Lock(ctx, r.retryInterval); err != nil {
		return nil, err
	}
	return redisLease{lock: l}, nil
}

type redisLease struct {
	lock *DistributedLock
}

func (l redisLease) Release(ctx context.Context) error {
	return l.lock.Unlock(ctx)
}

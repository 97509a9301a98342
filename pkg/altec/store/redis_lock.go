package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindforge/altec/pkg/altec/task"
)

// RedisLockStore backs the ephemeral Lock/Heartbeat entities (spec.md §3)
// on Redis keys under the "lock:{kind}:{resource_id}" namespace (spec.md
// §6), using the value's owner token as a compare-on-write guard so only
// the current holder can extend or release — grounded on the renew/release
// lease pattern in the pack's system-operation lock service.
type RedisLockStore struct {
	client *redis.Client
}

// NewRedisLockStore wraps an existing *redis.Client.
func NewRedisLockStore(client *redis.Client) *RedisLockStore {
	return &RedisLockStore{client: client}
}

func lockKey(key task.Key) string {
	return "lock:" + key.String()
}

// acquireScript sets the lock only if absent or already owned by workerID,
// refreshing the TTL either way.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttl_ms = ARGV[2]
local current = redis.call("GET", key)
if current == false or current == owner then
	redis.call("SET", key, owner, "PX", ttl_ms)
	return 1
end
return 0
`)

// extendScript refreshes the TTL only if the caller still owns the lock.
var extendScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttl_ms = ARGV[2]
local current = redis.call("GET", key)
if current == owner then
	redis.call("PEXPIRE", key, ttl_ms)
	return 1
end
return 0
`)

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local current = redis.call("GET", key)
if current == owner then
	redis.call("DEL", key)
end
return 1
`)

// TryAcquireLock implements C1's try_acquire_lock contract.
func (r *RedisLockStore) TryAcquireLock(ctx context.Context, key task.Key, workerID string, lease time.Duration) (LockOutcome, error) {
	acquired, err := acquireScript.Run(ctx, r.client, []string{lockKey(key)}, workerID, lease.Milliseconds()).Int()
	if err != nil {
		return LockOutcome{}, ErrStoreUnavailable
	}
	if acquired == 1 {
		return LockOutcome{Acquired: true}, nil
	}

	owner, err := r.client.Get(ctx, lockKey(key)).Result()
	if err != nil && err != redis.Nil {
		return LockOutcome{}, ErrStoreUnavailable
	}
	remaining, err := r.client.PTTL(ctx, lockKey(key)).Result()
	if err != nil {
		remaining = 0
	}
	return LockOutcome{Acquired: false, HeldBy: owner, Remaining: remaining}, nil
}

// ExtendLock implements C1's extend_lock contract.
func (r *RedisLockStore) ExtendLock(ctx context.Context, key task.Key, workerID string, lease time.Duration) (ExtendOutcome, error) {
	ok, err := extendScript.Run(ctx, r.client, []string{lockKey(key)}, workerID, lease.Milliseconds()).Int()
	if err != nil {
		return ExtendOutcome{}, ErrStoreUnavailable
	}
	if ok == 1 {
		return ExtendOutcome{OK: true}, nil
	}
	return ExtendOutcome{Lost: true}, nil
}

// ReleaseLock implements C1's release_lock contract; a no-op if already released.
func (r *RedisLockStore) ReleaseLock(ctx context.Context, key task.Key, workerID string) error {
	if err := releaseScript.Run(ctx, r.client, []string{lockKey(key)}, workerID).Err(); err != nil {
		return ErrStoreUnavailable
	}
	return nil
}

// ListExpiredLocks is a deliberate no-op for the Redis backend: expiry is
// enforced by Redis's own TTL, so "expired" locks are simply absent keys.
// CompositeStore.ListExpiredLocks instead compares each RUNNING Task's
// durable updated_at against its policy's lock lease,
// which is equivalent and avoids a KEYS/SCAN pass over the lock namespace.
func (r *RedisLockStore) ListExpiredLocks(ctx context.Context, now time.Time) ([]task.Key, error) {
	return nil, nil
}

package seq

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the fast-counter surface the coordinator consumes. Backed by
// Redis in production; volatile, may lose keys at any time, and is never
// trusted on first touch without reconciling against the durable store.
type Cache interface {
	// IncrBy atomically advances the counter key and returns the new value.
	// A returned value equal to n means the key was just created.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	// Get returns (value, false, nil) when the key is absent.
	Get(ctx context.Context, key string) (int64, bool, error)
	// RaiseFloor sets the key to floor unless it already holds a value >= floor.
	RaiseFloor(ctx context.Context, key string, floor int64) error
	// ReconcileIncr raises the key to floor if it is behind, then advances it
	// by n and returns the new value, all in one atomic step.
	ReconcileIncr(ctx context.Context, key string, floor, n int64) (int64, error)
	Del(ctx context.Context, keys ...string) error
	PExpire(ctx context.Context, key string, ttl time.Duration) error
	// Persist removes any expiry from the key.
	Persist(ctx context.Context, key string) error

	// Lock primitives (conditional create with expiry, compare-token delete).
	SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
	ReleaseToken(ctx context.Context, key, token string) error
}

// Raise-only, never lower: a live counter that is already ahead stays
// authoritative.
var luaRaiseFloor = redis.NewScript(`
  local k = KEYS[1]
  local floor = tonumber(ARGV[1])
  local v = tonumber(redis.call('GET', k) or '-1')
  if v < floor then
    redis.call('SET', k, floor)
  end
  return 1
`)

var luaReconcileIncr = redis.NewScript(`
  local k = KEYS[1]
  local floor = tonumber(ARGV[1])
  local need = tonumber(ARGV[2])
  local v = tonumber(redis.call('GET', k) or '0')
  if v < floor then
    redis.call('SET', k, floor)
  end
  return redis.call('INCRBY', k, need)
`)

// Delete only when the token still matches; an expired-and-reacquired lock
// must not be released by the previous holder.
var luaReleaseToken = redis.NewScript(`
  if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
  end
  return 0
`)

type redisCache struct {
	rdb redis.UniversalClient
}

func NewRedisCache(rdb redis.UniversalClient) Cache {
	return &redisCache{rdb: rdb}
}

func (c *redisCache) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return c.rdb.IncrBy(ctx, key, n).Result()
}

func (c *redisCache) Get(ctx context.Context, key string) (int64, bool, error) {
	v, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (c *redisCache) RaiseFloor(ctx context.Context, key string, floor int64) error {
	return luaRaiseFloor.Run(ctx, c.rdb, []string{key}, floor).Err()
}

func (c *redisCache) ReconcileIncr(ctx context.Context, key string, floor, n int64) (int64, error) {
	return luaReconcileIncr.Run(ctx, c.rdb, []string{key}, floor, n).Int64()
}

func (c *redisCache) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *redisCache) PExpire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.PExpire(ctx, key, ttl).Err()
}

func (c *redisCache) Persist(ctx context.Context, key string) error {
	return c.rdb.Persist(ctx, key).Err()
}

func (c *redisCache) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, val, ttl).Result()
}

func (c *redisCache) ReleaseToken(ctx context.Context, key, token string) error {
	return luaReleaseToken.Run(ctx, c.rdb, []string{key}, token).Err()
}

package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-lockd-backend/internal/config"
)

// slidingWindowScript keeps one sorted-set member per admitted call, scored
// by its millisecond timestamp. Returns {allowed, remaining, retry_ms}.
var slidingWindowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, limit - count - 1, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = window
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
if retry < 1 then retry = 1 end
return {0, 0, retry}
`)

var compareAndDeleteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis implements Client over go-redis with a key namespace prefix.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ Client = (*Redis)(nil)

// NewRedis wraps an existing go-redis client.
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

// NewRedisFromConfig dials lazily; connection errors surface on first use.
func NewRedisFromConfig(cfg config.RedisConfig) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.DialTimeout,
	})
	log.Info().Str("component", "kv").Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("redis client configured")
	return NewRedis(rdb, cfg.KeyPrefix)
}

func (r *Redis) key(k string) string { return r.prefix + k }

// Get returns ErrNotFound for a missing key.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, r.key(key), value, ttl).Result()
}

func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.rdb.Del(ctx, full...).Result()
}

func (r *Redis) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, r.rdb, []string{r.key(key)}, value).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int, member string) (WindowResult, error) {
	res, err := slidingWindowScript.Run(ctx, r.rdb, []string{r.key(key)},
		now.UnixMilli(), window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return WindowResult{}, err
	}
	if len(res) != 3 {
		return WindowResult{}, fmt.Errorf("kv: sliding window returned %d values", len(res))
	}
	return WindowResult{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// The hash at KEYS[1] holds count (failures), pending (admitted, unsettled
// attempts) and start_ms (window start).  The key expires with its window,
// and a window that has closed is treated as absent.

// checkScript admits and counts an attempt in one step.  It returns
// {allowed, retry_at_ms}.
var checkScript = redis.NewScript(`
	local state = redis.call('HMGET', KEYS[1], 'count', 'pending', 'start_ms')
	local count = tonumber(state[1]) or 0
	local pending = tonumber(state[2]) or 0
	local start = tonumber(state[3])
	local now_ms = tonumber(ARGV[1])
	local max_attempts = tonumber(ARGV[2])
	local window_ms = tonumber(ARGV[3])

	if start == nil or now_ms >= start + window_ms then
		redis.call('DEL', KEYS[1])
		redis.call('HSET', KEYS[1], 'count', 0, 'pending', 1, 'start_ms', now_ms)
		redis.call('PEXPIREAT', KEYS[1], now_ms + window_ms)
		return { 1, 0 }
	end
	if count + pending >= max_attempts then
		return { 0, start + window_ms }
	end
	redis.call('HINCRBY', KEYS[1], 'pending', 1)
	return { 1, 0 }
`)

// failureScript turns an admitted attempt into a failure, opening a new
// window when none is live.
var failureScript = redis.NewScript(`
	local state = redis.call('HMGET', KEYS[1], 'count', 'pending', 'start_ms')
	local pending = tonumber(state[2]) or 0
	local start = tonumber(state[3])
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])

	if start == nil or now_ms >= start + window_ms then
		redis.call('DEL', KEYS[1])
		redis.call('HSET', KEYS[1], 'count', 1, 'pending', 0, 'start_ms', now_ms)
		redis.call('PEXPIREAT', KEYS[1], now_ms + window_ms)
		return 1
	end
	if pending > 0 then
		redis.call('HINCRBY', KEYS[1], 'pending', -1)
	end
	return redis.call('HINCRBY', KEYS[1], 'count', 1)
`)

// releaseScript hands an admitted attempt back.
var releaseScript = redis.NewScript(`
	local state = redis.call('HMGET', KEYS[1], 'count', 'pending', 'start_ms')
	local count = tonumber(state[1]) or 0
	local pending = tonumber(state[2]) or 0
	local start = tonumber(state[3])
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])

	if start == nil or now_ms >= start + window_ms or pending == 0 then
		return 0
	end
	if count == 0 and pending == 1 then
		redis.call('DEL', KEYS[1])
		return 0
	end
	return redis.call('HINCRBY', KEYS[1], 'pending', -1)
`)

// scriptDeleter is the slice of the redis client the limiter uses;
// *redis.Client and *redis.ClusterClient both satisfy it.
type scriptDeleter interface {
	redis.Scripter
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis is a Limiter shared by every replica.  Any backend error is
// returned wrapped in ErrUnavailable.
type Redis struct {
	rdb    scriptDeleter
	policy Policy
	prefix string
	now    func() time.Time
}

func NewRedis(rdb scriptDeleter, p Policy, prefix string) *Redis {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if prefix == "" {
		prefix = "login"
	}
	return &Redis{rdb: rdb, policy: p, prefix: prefix, now: time.Now}
}

func (r *Redis) key(k string) string { return r.prefix + ":" + k }

func (r *Redis) Check(ctx context.Context, key string) (Decision, error) {
	vals, err := checkScript.Run(ctx, r.rdb, []string{r.key(key)},
		r.now().UnixMilli(), r.policy.MaxAttempts, r.policy.Window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: check: %v", ErrUnavailable, err)
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected check result %#v", ErrUnavailable, vals)
	}
	if asInt64(arr[0]) == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.UnixMilli(asInt64(arr[1]))}, nil
}

func (r *Redis) RecordFailure(ctx context.Context, key string) error {
	err := failureScript.Run(ctx, r.rdb, []string{r.key(key)},
		r.now().UnixMilli(), r.policy.Window.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("%w: record failure: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	err := releaseScript.Run(ctx, r.rdb, []string{r.key(key)},
		r.now().UnixMilli(), r.policy.Window.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("%w: release: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) RecordSuccess(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: reset: %v", ErrUnavailable, err)
	}
	return nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// bucketScript is a token bucket: capacity tokens, refill_tokens added every
// interval_ms.  Returns {allowed, tokens_left, retry_after_ms}.
var bucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_tokens = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_seconds = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 and refill_tokens > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + (intervals * refill_tokens))
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		local until_next = interval_ms - (now_ms - last_refill)
		if until_next < 0 then until_next = 0 end
		retry_after_ms = until_next
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// BucketConfig parameterises a token bucket.
type BucketConfig struct {
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
}

// BucketResult is one Take outcome.
type BucketResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Bucket is a redis token bucket used as the coarse per-origin throttle in
// front of the auth routes.
type Bucket struct {
	rdb redis.Scripter
	cfg BucketConfig
	now func() time.Time
}

func NewBucket(rdb redis.Scripter, cfg BucketConfig) *Bucket {
	return &Bucket{rdb: rdb, cfg: cfg, now: time.Now}
}

// Take consumes one token for key.
func (b *Bucket) Take(ctx context.Context, key string) (BucketResult, error) {
	vals, err := bucketScript.Run(ctx, b.rdb, []string{key},
		b.now().UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL/time.Second),
	).Result()
	if err != nil {
		return BucketResult{}, fmt.Errorf("%w: bucket: %v", ErrUnavailable, err)
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return BucketResult{}, fmt.Errorf("%w: unexpected bucket result %#v", ErrUnavailable, vals)
	}
	return BucketResult{
		Allowed:    asInt64(arr[0]) == 1,
		Remaining:  asInt64(arr[1]),
		RetryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
	}, nil
}

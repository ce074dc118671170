package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// unreachable returns a client pointed at a closed port so every command
// fails fast.
func unreachable(t *testing.T) *redis.Client {
	t.Helper()
	c := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// redisEnv is an in-memory redis whose clock moves with the limiter's.
type redisEnv struct {
	mr  *miniredis.Miniredis
	rdb *redis.Client
	clk *fakeClock
}

func newRedisEnv(t *testing.T) *redisEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	clk := &fakeClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	mr.SetTime(clk.Now())
	return &redisEnv{mr: mr, rdb: rdb, clk: clk}
}

func (e *redisEnv) limiter(max int, window time.Duration) *Redis {
	r := NewRedis(e.rdb, Policy{MaxAttempts: max, Window: window}, "login")
	r.now = e.clk.Now
	return r
}

func (e *redisEnv) advance(d time.Duration) {
	e.clk.Advance(d)
	e.mr.SetTime(e.clk.Now())
	e.mr.FastForward(d)
}

func TestRedis_LocksAfterThreshold(t *testing.T) {
	ctx := context.Background()
	env := newRedisEnv(t)
	r := env.limiter(3, 15*time.Minute)
	start := env.clk.Now()

	for i := 0; i < 3; i++ {
		d, err := r.Check(ctx, "k")
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d", i+1)
		require.NoError(t, r.RecordFailure(ctx, "k"))
		env.advance(time.Minute)
	}
	require.Equal(t, "3", env.mr.HGet("login:k", "count"))
	require.Equal(t, "0", env.mr.HGet("login:k", "pending"))

	d, err := r.Check(ctx, "k")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, start.Add(15*time.Minute).UnixMilli(), d.RetryAfter.UnixMilli())

	d, err = r.Check(ctx, "other")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestRedis_CheckCountsAdmittedAttempts(t *testing.T) {
	ctx := context.Background()
	env := newRedisEnv(t)
	r := env.limiter(2, time.Minute)

	for i := 0; i < 2; i++ {
		d, err := r.Check(ctx, "k")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := r.Check(ctx, "k")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, "2", env.mr.HGet("login:k", "pending"))
}

func TestRedis_WindowExpiryOpensFreshWindow(t *testing.T) {
	ctx := context.Background()
	env := newRedisEnv(t)
	r := env.limiter(2, 10*time.Minute)
	require.NoError(t, r.RecordFailure(ctx, "k"))
	require.NoError(t, r.RecordFailure(ctx, "k"))

	env.advance(10*time.Minute - time.Second)
	d, err := r.Check(ctx, "k")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	env.advance(time.Second)
	d, err = r.Check(ctx, "k")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, "0", env.mr.HGet("login:k", "count"))
	require.Equal(t, "1", env.mr.HGet("login:k", "pending"))
	require.Equal(t, 10*time.Minute, env.mr.TTL("login:k"))
}

func TestRedis_SuccessDeletesKey(t *testing.T) {
	ctx := context.Background()
	env := newRedisEnv(t)
	r := env.limiter(2, time.Minute)

	_, err := r.Check(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, r.RecordFailure(ctx, "k"))
	require.True(t, env.mr.Exists("login:k"))

	require.NoError(t, r.RecordSuccess(ctx, "k"))
	require.False(t, env.mr.Exists("login:k"))
}

func TestRedis_ReleaseHandsTheSlotBack(t *testing.T) {
	ctx := context.Background()
	env := newRedisEnv(t)
	r := env.limiter(2, time.Minute)

	_, err := r.Check(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, r.Release(ctx, "k"))
	require.False(t, env.mr.Exists("login:k"))

	_, err = r.Check(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, r.RecordFailure(ctx, "k"))
	_, err = r.Check(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, r.Release(ctx, "k"))
	require.NoError(t, r.Release(ctx, "k"))
	require.Equal(t, "1", env.mr.HGet("login:k", "count"))
	require.Equal(t, "0", env.mr.HGet("login:k", "pending"))
}

func TestRedis_ParallelChecksAdmitAtMostThreshold(t *testing.T) {
	ctx := context.Background()
	env := newRedisEnv(t)
	r := env.limiter(4, time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := r.Check(ctx, "shared")
			if err != nil || !d.Allowed {
				return
			}
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 4, allowed)
}

func TestBucket_DrainsAndRefills(t *testing.T) {
	ctx := context.Background()
	env := newRedisEnv(t)
	b := NewBucket(env.rdb, BucketConfig{Capacity: 2, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute})
	b.now = env.clk.Now

	for want := int64(1); want >= 0; want-- {
		res, err := b.Take(ctx, "rl:auth:ip:1.2.3.4")
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.Equal(t, want, res.Remaining)
	}

	res, err := b.Take(ctx, "rl:auth:ip:1.2.3.4")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, time.Second, res.RetryAfter)

	env.advance(time.Second)
	res, err = b.Take(ctx, "rl:auth:ip:1.2.3.4")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, time.Minute, env.mr.TTL("rl:auth:ip:1.2.3.4"))
}

func TestRedis_BackendDownIsUnavailable(t *testing.T) {
	ctx := context.Background()
	r := NewRedis(unreachable(t), Policy{MaxAttempts: 5, Window: time.Minute}, "")

	_, err := r.Check(ctx, "k")
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, r.RecordFailure(ctx, "k"), ErrUnavailable)
	require.ErrorIs(t, r.RecordSuccess(ctx, "k"), ErrUnavailable)
	require.ErrorIs(t, r.Release(ctx, "k"), ErrUnavailable)
}

func TestBucket_BackendDownIsUnavailable(t *testing.T) {
	b := NewBucket(unreachable(t), BucketConfig{Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute})
	_, err := b.Take(context.Background(), "rl:ip:1.2.3.4")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestAsInt64(t *testing.T) {
	require.Equal(t, int64(3), asInt64(int64(3)))
	require.Equal(t, int64(4), asInt64("4"))
	require.Equal(t, int64(5), asInt64(5.9))
	require.Equal(t, int64(0), asInt64(nil))
}

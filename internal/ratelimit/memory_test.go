package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemory(t *testing.T, max int, window time.Duration) (*Memory, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	return NewMemory(Policy{MaxAttempts: max, Window: window}, WithClock(clk.Now)), clk
}

func TestMemory_LocksAfterThreshold(t *testing.T) {
	ctx := context.Background()
	m, clk := newMemory(t, 3, 15*time.Minute)
	start := clk.Now()

	for i := 0; i < 3; i++ {
		d, err := m.Check(ctx, "k")
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d", i+1)
		require.NoError(t, m.RecordFailure(ctx, "k"))
		clk.Advance(time.Minute)
	}

	d, err := m.Check(ctx, "k")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, start.Add(15*time.Minute), d.RetryAfter)

	// Other keys are unaffected.
	d, _ = m.Check(ctx, "other")
	require.True(t, d.Allowed)
}

func TestMemory_LockoutIgnoresSuccessUntilWindowEnds(t *testing.T) {
	ctx := context.Background()
	m, clk := newMemory(t, 2, 10*time.Minute)
	require.NoError(t, m.RecordFailure(ctx, "k"))
	require.NoError(t, m.RecordFailure(ctx, "k"))

	clk.Advance(10*time.Minute - time.Second)
	d, _ := m.Check(ctx, "k")
	require.False(t, d.Allowed)

	clk.Advance(time.Second)
	d, _ = m.Check(ctx, "k")
	require.True(t, d.Allowed)
	require.Equal(t, 1, m.Len(), "the admitted attempt opens a fresh window")
}

func TestMemory_SuccessClears(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory(t, 2, time.Minute)
	require.NoError(t, m.RecordFailure(ctx, "k"))
	require.NoError(t, m.RecordSuccess(ctx, "k"))
	require.NoError(t, m.RecordFailure(ctx, "k"))

	d, _ := m.Check(ctx, "k")
	require.True(t, d.Allowed)
}

func TestMemory_NewWindowAfterExpiry(t *testing.T) {
	ctx := context.Background()
	m, clk := newMemory(t, 2, time.Minute)
	require.NoError(t, m.RecordFailure(ctx, "k"))
	clk.Advance(2 * time.Minute)
	require.NoError(t, m.RecordFailure(ctx, "k"))

	d, _ := m.Check(ctx, "k")
	require.True(t, d.Allowed, "the stale failure must not count in the new window")
}

func TestMemory_ConcurrentFailuresAreNotLost(t *testing.T) {
	ctx := context.Background()
	const workers = 64
	m, _ := newMemory(t, workers, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.RecordFailure(ctx, "shared")
		}()
	}
	wg.Wait()

	d, err := m.Check(ctx, "shared")
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestMemory_CheckCountsAdmittedAttempts(t *testing.T) {
	ctx := context.Background()
	m, clk := newMemory(t, 3, 15*time.Minute)
	start := clk.Now()

	for i := 0; i < 3; i++ {
		d, err := m.Check(ctx, "k")
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d", i+1)
	}
	d, err := m.Check(ctx, "k")
	require.NoError(t, err)
	require.False(t, d.Allowed, "unsettled attempts hold their slots")
	require.Equal(t, start.Add(15*time.Minute), d.RetryAfter)

	// Settling as failures keeps the slots taken.
	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordFailure(ctx, "k"))
	}
	d, _ = m.Check(ctx, "k")
	require.False(t, d.Allowed)
}

func TestMemory_ReleaseHandsTheSlotBack(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory(t, 2, time.Minute)

	d, _ := m.Check(ctx, "k")
	require.True(t, d.Allowed)
	require.NoError(t, m.Release(ctx, "k"))
	require.Equal(t, 0, m.Len())

	d, _ = m.Check(ctx, "k")
	require.True(t, d.Allowed)
	require.NoError(t, m.RecordFailure(ctx, "k"))
	d, _ = m.Check(ctx, "k")
	require.True(t, d.Allowed)
	require.NoError(t, m.Release(ctx, "k"))
	// Nothing pending: a stray release does not refund a failure.
	require.NoError(t, m.Release(ctx, "k"))

	d, _ = m.Check(ctx, "k")
	require.True(t, d.Allowed)
	d, _ = m.Check(ctx, "k")
	require.False(t, d.Allowed)
}

func TestMemory_ParallelChecksAdmitAtMostThreshold(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory(t, 5, time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := m.Check(ctx, "shared")
			if err != nil || !d.Allowed {
				return
			}
			_ = m.RecordFailure(ctx, "shared")
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 5, allowed)
}

func TestMemory_Sweep(t *testing.T) {
	ctx := context.Background()
	m, clk := newMemory(t, 5, time.Minute)
	require.NoError(t, m.RecordFailure(ctx, "a"))
	clk.Advance(30 * time.Second)
	require.NoError(t, m.RecordFailure(ctx, "b"))
	require.Equal(t, 2, m.Len())

	clk.Advance(31 * time.Second)
	require.Equal(t, 1, m.Sweep())
	require.Equal(t, 1, m.Len())
}

func TestMemory_RunSweeperStopsOnCancel(t *testing.T) {
	m, _ := newMemory(t, 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestKey(t *testing.T) {
	require.Equal(t, "id:ops@example.com", Key(KeyIdentifier, " OPS@example.com", "1.2.3.4"))
	require.Equal(t, "id:ops@example.com:origin:1.2.3.4", Key(KeyIdentifierOrigin, "ops@example.com", "1.2.3.4"))
	require.Equal(t, "id:ops@example.com:origin:unknown", Key(KeyIdentifierOrigin, "ops@example.com", ""))
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// entry is the per-key state.  The window is fixed: it opens with the first
// admitted attempt and closes at windowStart+Window.  pending counts attempts
// admitted by Check that have not yet been settled; they occupy a slot like
// a failure does.  An entry untouched for longer than the window has
// necessarily expired, so expiry alone drives eviction.
type entry struct {
	count       int
	pending     int
	windowStart time.Time
}

// sweepEvery triggers an opportunistic sweep after this many operations, so
// the table stays bounded even when no background sweeper runs.
const sweepEvery = 256

// Memory is an in-process Limiter.  All mutations happen under one mutex, so
// concurrent failures for the same key are never lost.
type Memory struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	ops     int
}

// MemoryOption customises a Memory limiter.
type MemoryOption func(*Memory)

// WithClock replaces time.Now; tests use it to step over window edges.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(p Policy, opts ...MemoryOption) *Memory {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	m := &Memory{policy: p, now: time.Now, entries: map[string]*entry{}}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Check(_ context.Context, key string) (Decision, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeSweepLocked(now)

	e := m.liveLocked(key, now)
	if e == nil {
		m.entries[key] = &entry{pending: 1, windowStart: now}
		return Decision{Allowed: true}, nil
	}
	if e.count+e.pending >= m.policy.MaxAttempts {
		return Decision{Allowed: false, RetryAfter: e.windowStart.Add(m.policy.Window)}, nil
	}
	e.pending++
	return Decision{Allowed: true}, nil
}

func (m *Memory) RecordFailure(_ context.Context, key string) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeSweepLocked(now)

	e := m.liveLocked(key, now)
	if e == nil {
		m.entries[key] = &entry{count: 1, windowStart: now}
		return nil
	}
	e.count++
	if e.pending > 0 {
		e.pending--
	}
	return nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.liveLocked(key, now)
	if e == nil || e.pending == 0 {
		return nil
	}
	e.pending--
	if e.count == 0 && e.pending == 0 {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) RecordSuccess(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// liveLocked returns the entry for key, dropping it first if its window has
// closed.  Absence means zero prior attempts.
func (m *Memory) liveLocked(key string, now time.Time) *entry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !now.Before(e.windowStart.Add(m.policy.Window)) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Memory) maybeSweepLocked(now time.Time) {
	m.ops++
	if m.ops%sweepEvery == 0 {
		m.sweepLocked(now)
	}
}

func (m *Memory) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.windowStart.Add(m.policy.Window)) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Sweep drops every entry whose window has closed.  It returns the number of entries removed.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(now)
}

// Len reports the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RunSweeper sweeps every interval until ctx is cancelled.
func (m *Memory) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.policy.Window
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

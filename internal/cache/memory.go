package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store. Entries past the TTL stay readable through
// Peek until the next sweep removes them.
type Memory struct {
	ttl     time.Duration
	spacing time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
	lastOps map[string]time.Time
}

// NewMemory creates an in-memory store. Non-positive arguments select the defaults.
func NewMemory(ttl time.Duration, maxOpsPerMinute int) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		spacing: Spacing(maxOpsPerMinute),
		now:     time.Now,
		entries: make(map[string]Entry),
		lastOps: make(map[string]time.Time),
	}
}

// WithClock replaces the time source; used by tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, name string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[name]
	if !ok || m.now().Sub(entry.LoadedAt) >= m.ttl {
		return Entry{}, false
	}
	return entry, true
}

func (m *Memory) Peek(_ context.Context, name string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[name]
	return entry, ok
}

func (m *Memory) Put(_ context.Context, name, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = Entry{Content: content, LoadedAt: m.now()}
}

func (m *Memory) Allow(_ context.Context, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if last, ok := m.lastOps[name]; ok && now.Sub(last) < m.spacing {
		return false
	}
	m.lastOps[name] = now
	return true
}

// Sweep drops content entries older than the TTL and limiter entries older than
// one minute. It returns how many of each were removed.
func (m *Memory) Sweep(now time.Time) (entries, limits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, entry := range m.entries {
		if now.Sub(entry.LoadedAt) >= m.ttl {
			delete(m.entries, name)
			entries++
		}
	}
	for name, last := range m.lastOps {
		if now.Sub(last) >= limiterRetention {
			delete(m.lastOps, name)
			limits++
		}
	}
	return entries, limits
}

// Len returns the number of content and limiter entries currently held.
func (m *Memory) Len() (entries, limits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), len(m.lastOps)
}

// Run sweeps every TTL until ctx is cancelled.
func (m *Memory) Run(ctx context.Context) {
	ticker := time.NewTicker(m.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}

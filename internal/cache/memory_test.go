package cache

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMemory(ttl time.Duration, perMinute int) (*Memory, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	return NewMemory(ttl, perMinute).WithClock(clock.Now), clock
}

func TestSpacing(t *testing.T) {
	tests := []struct {
		perMinute int
		want      time.Duration
	}{
		{perMinute: 100, want: 600 * time.Millisecond},
		{perMinute: 60, want: time.Second},
		{perMinute: 0, want: 600 * time.Millisecond},
		{perMinute: -5, want: 600 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := Spacing(tt.perMinute); got != tt.want {
			t.Errorf("Spacing(%d) = %v, want %v", tt.perMinute, got, tt.want)
		}
	}
}

func TestMemoryGetRespectsTTL(t *testing.T) {
	m, clock := newTestMemory(5*time.Minute, 100)
	ctx := context.Background()

	if _, ok := m.Get(ctx, "task:1:description"); ok {
		t.Fatal("expected miss on empty cache")
	}

	m.Put(ctx, "task:1:description", "<p>hello</p>")
	clock.Advance(4 * time.Minute)
	entry, ok := m.Get(ctx, "task:1:description")
	if !ok || entry.Content != "<p>hello</p>" {
		t.Fatalf("expected fresh hit, got %+v ok=%v", entry, ok)
	}

	clock.Advance(time.Minute)
	if _, ok := m.Get(ctx, "task:1:description"); ok {
		t.Fatal("expected miss once the TTL elapsed")
	}
	stale, ok := m.Peek(ctx, "task:1:description")
	if !ok || stale.Content != "<p>hello</p>" {
		t.Fatalf("expected stale entry through Peek, got %+v ok=%v", stale, ok)
	}
}

func TestMemoryAllowSpacing(t *testing.T) {
	m, clock := newTestMemory(5*time.Minute, 100)
	ctx := context.Background()

	if !m.Allow(ctx, "epic:1:description") {
		t.Fatal("first operation should be allowed")
	}
	clock.Advance(599 * time.Millisecond)
	if m.Allow(ctx, "epic:1:description") {
		t.Fatal("operation inside the spacing window should be denied")
	}
	if !m.Allow(ctx, "epic:2:description") {
		t.Fatal("limits are per document name")
	}
	clock.Advance(time.Millisecond)
	if !m.Allow(ctx, "epic:1:description") {
		t.Fatal("operation after the spacing window should be allowed")
	}
}

func TestMemorySweep(t *testing.T) {
	m, clock := newTestMemory(5*time.Minute, 100)
	ctx := context.Background()

	m.Put(ctx, "old", "a")
	m.Allow(ctx, "old")
	clock.Advance(2 * time.Minute)
	m.Put(ctx, "new", "b")
	m.Allow(ctx, "new")

	entries, limits := m.Sweep(clock.Now())
	if entries != 0 || limits != 1 {
		t.Fatalf("expected 0 entries and 1 limit swept, got %d and %d", entries, limits)
	}

	clock.Advance(3 * time.Minute)
	entries, limits = m.Sweep(clock.Now())
	if entries != 1 || limits != 1 {
		t.Fatalf("expected 1 entry and 1 limit swept, got %d and %d", entries, limits)
	}
	if n, l := m.Len(); n != 1 || l != 0 {
		t.Fatalf("expected 1 remaining entry, got %d entries %d limits", n, l)
	}
	if _, ok := m.Peek(ctx, "new"); !ok {
		t.Error("expected the newer entry to survive the sweep")
	}
}

func TestMemoryRunStopsOnCancel(t *testing.T) {
	m := NewMemory(10*time.Millisecond, 100)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	m.Put(ctx, "task:1:description", "x")
	deadline := time.After(2 * time.Second)
	for {
		if n, _ := m.Len(); n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never removed the expired entry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// Package cache memoizes loaded document content and throttles datastore loads
// per document name.
package cache

import (
	"context"
	"time"
)

const (
	DefaultTTL             = 5 * time.Minute
	DefaultMaxOpsPerMinute = 100
	limiterRetention       = time.Minute
)

// Entry is a cached document body.
type Entry struct {
	Content  string    `json:"content"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Store is the cache and rate limiter used by the content loader.
type Store interface {
	// Get returns the entry only while it is fresh.
	Get(ctx context.Context, name string) (Entry, bool)
	// Peek returns the last stored entry regardless of age.
	Peek(ctx context.Context, name string) (Entry, bool)
	Put(ctx context.Context, name, content string)
	// Allow reports whether a datastore operation for name may run now, and
	// records it when it may.
	Allow(ctx context.Context, name string) bool
}

// Spacing is the minimum interval between two permitted operations on the same
// name for the given per-minute ceiling.
func Spacing(maxOpsPerMinute int) time.Duration {
	if maxOpsPerMinute <= 0 {
		maxOpsPerMinute = DefaultMaxOpsPerMinute
	}
	return time.Minute / time.Duration(maxOpsPerMinute)
}

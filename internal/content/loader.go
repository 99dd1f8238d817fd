// Package content loads the stored description HTML behind a document name.
package content

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"docsync/api/internal/cache"
	"docsync/api/internal/docname"
	"docsync/api/internal/store"
)

// Outcome classifies a load.
type Outcome string

const (
	OutcomeLoaded      Outcome = "loaded"
	OutcomeCached      Outcome = "cached"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeInvalidName Outcome = "invalid_name"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeError       Outcome = "error"
)

// Result is the outcome of one load. Content is always usable: failures leave it
// empty or holding the last cached value.
type Result struct {
	Name    string
	Content string
	Outcome Outcome
	// Stale is set when Content comes from a cache entry past its TTL.
	Stale bool
	Err   error
}

// Log writes the result as a single log record.
func (r Result) Log(logger *slog.Logger) {
	if logger == nil {
		return
	}
	attrs := []any{
		"document", r.Name,
		"outcome", string(r.Outcome),
		"bytes", len(r.Content),
	}
	switch r.Outcome {
	case OutcomeError:
		logger.Error("content load failed", append(attrs, "stale", r.Stale, "error", r.Err)...)
	case OutcomeInvalidName:
		logger.Warn("rejected document name", attrs...)
	case OutcomeRateLimited:
		logger.Warn("content load rate limited", append(attrs, "stale", r.Stale)...)
	default:
		logger.Debug("content loaded", attrs...)
	}
}

// Source is the datastore boundary: one point lookup per entity type.
type Source interface {
	TaskDescription(ctx context.Context, id string) (store.Description, error)
	EpicDescription(ctx context.Context, id string) (store.Description, error)
	StoryDescription(ctx context.Context, id string) (store.Description, error)
	MilestoneDescription(ctx context.Context, id string) (store.Description, error)
}

type lookupFunc func(ctx context.Context, id string) (store.Description, error)

// Loader resolves document names to description HTML through the cache and rate
// limiter. Concurrent loads of the same name share one datastore call.
type Loader struct {
	lookups map[docname.EntityType]lookupFunc
	cache   cache.Store
	group   singleflight.Group
}

// NewLoader creates a loader. A nil cache disables caching and rate limiting.
func NewLoader(src Source, c cache.Store) *Loader {
	if c == nil {
		c = noCache{}
	}
	return &Loader{
		lookups: map[docname.EntityType]lookupFunc{
			docname.Task:      src.TaskDescription,
			docname.Epic:      src.EpicDescription,
			docname.Story:     src.StoryDescription,
			docname.Milestone: src.MilestoneDescription,
		},
		cache: c,
	}
}

// Load returns the content for name, answering from a fresh cache entry when
// one exists.
func (l *Loader) Load(ctx context.Context, name string) Result {
	return l.load(ctx, name, false)
}

// LoadFresh bypasses fresh cache entries and goes to the datastore, subject to
// the rate limiter.
func (l *Loader) LoadFresh(ctx context.Context, name string) Result {
	return l.load(ctx, name, true)
}

func (l *Loader) load(ctx context.Context, name string, fresh bool) Result {
	id, ok := docname.Parse(name)
	if !ok {
		return Result{Name: name, Outcome: OutcomeInvalidName}
	}
	if !fresh {
		if entry, ok := l.cache.Get(ctx, name); ok {
			return Result{Name: name, Content: entry.Content, Outcome: OutcomeCached}
		}
	}
	v, _, _ := l.group.Do(name, func() (any, error) {
		return l.fetch(ctx, name, id), nil
	})
	return v.(Result)
}

func (l *Loader) fetch(ctx context.Context, name string, id docname.Identity) Result {
	if !l.cache.Allow(ctx, name) {
		return l.fallback(ctx, Result{Name: name, Outcome: OutcomeRateLimited})
	}

	lookup, ok := l.lookups[id.Type]
	if !ok {
		return Result{Name: name, Outcome: OutcomeInvalidName}
	}
	desc, err := lookup(ctx, id.ID)
	if err != nil {
		return l.fallback(ctx, Result{
			Name:    name,
			Outcome: OutcomeError,
			Err:     fmt.Errorf("load %s %s: %w", id.Type, id.ID, err),
		})
	}

	l.cache.Put(ctx, name, desc.String)
	if !desc.Valid {
		return Result{Name: name, Outcome: OutcomeNotFound}
	}
	return Result{Name: name, Content: desc.String, Outcome: OutcomeLoaded}
}

// fallback fills res with the last cached content, fresh or not.
func (l *Loader) fallback(ctx context.Context, res Result) Result {
	if entry, ok := l.cache.Peek(ctx, res.Name); ok {
		res.Content = entry.Content
		_, fresh := l.cache.Get(ctx, res.Name)
		res.Stale = !fresh
	}
	return res
}

type noCache struct{}

func (noCache) Get(context.Context, string) (cache.Entry, bool)  { return cache.Entry{}, false }
func (noCache) Peek(context.Context, string) (cache.Entry, bool) { return cache.Entry{}, false }
func (noCache) Put(context.Context, string, string)              {}
func (noCache) Allow(context.Context, string) bool               { return true }

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on a shared Redis so that several collaboration
// servers behind a load balancer share one cache and one rate limit per
// document. Expiry is left to Redis.
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	spacing time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string, ttl time.Duration, maxOpsPerMinute int, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client, ttl, maxOpsPerMinute, logger), nil
}

// NewRedisWithClient creates a store from an existing Redis client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration, maxOpsPerMinute int, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Redis{
		client:  client,
		prefix:  "docsync:",
		ttl:     ttl,
		spacing: Spacing(maxOpsPerMinute),
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the time source used for freshness; used by tests.
func (s *Redis) WithClock(now func() time.Time) *Redis {
	s.now = now
	return s
}

func (s *Redis) contentKey(name string) string {
	return s.prefix + "content:" + name
}

func (s *Redis) limitKey(name string) string {
	return s.prefix + "ratelimit:" + name
}

func (s *Redis) Get(ctx context.Context, name string) (Entry, bool) {
	entry, ok := s.Peek(ctx, name)
	if !ok || s.now().Sub(entry.LoadedAt) >= s.ttl {
		return Entry{}, false
	}
	return entry, true
}

func (s *Redis) Peek(ctx context.Context, name string) (Entry, bool) {
	raw, err := s.client.Get(ctx, s.contentKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}
	if err != nil {
		s.logger.Warn("cache: read entry", "document", name, "error", err)
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		s.logger.Warn("cache: decode entry", "document", name, "error", err)
		return Entry{}, false
	}
	return entry, true
}

// Put keeps the entry in Redis for twice the TTL so that stale content remains
// available to rate-limited or failed loads after freshness lapses.
func (s *Redis) Put(ctx context.Context, name, content string) {
	data, err := json.Marshal(Entry{Content: content, LoadedAt: s.now()})
	if err != nil {
		s.logger.Warn("cache: encode entry", "document", name, "error", err)
		return
	}
	if err := s.client.Set(ctx, s.contentKey(name), data, 2*s.ttl).Err(); err != nil {
		s.logger.Warn("cache: save entry", "document", name, "error", err)
	}
}

// Allow claims the per-document slot for one spacing interval. Redis errors
// allow the operation; the datastore remains the fallback.
func (s *Redis) Allow(ctx context.Context, name string) bool {
	ok, err := s.client.SetNX(ctx, s.limitKey(name), s.now().UnixMilli(), s.spacing).Result()
	if err != nil {
		s.logger.Warn("cache: rate limit check", "document", name, "error", err)
		return true
	}
	return ok
}

// Close closes the Redis connection.
func (s *Redis) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Package cache provides the Redis read-through cache with tag-based
// invalidation. Every operation degrades gracefully: when Redis is down
// the fetcher runs and the caller never sees a cache error.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corpusd/corpusd/internal/metrics"
)

// tagGrace keeps tag sets alive slightly longer than their newest entry
// so invalidation still finds keys that are about to expire.
const tagGrace = 5 * time.Minute

// Manager is the tag-indexed cache over Redis.
type Manager struct {
	client     *redis.Client
	collectors *metrics.Metrics
	logger     *slog.Logger
}

// NewManager creates a Manager. The connection is verified lazily; a
// dead Redis only costs cache hits, never correctness. collectors may
// be nil.
func NewManager(addr, password string, db int, collectors *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Manager{client: client, collectors: collectors, logger: logger}
}

// NewManagerWithClient wraps an existing Redis client. Used by tests.
func NewManagerWithClient(client *redis.Client, collectors *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{client: client, collectors: collectors, logger: logger}
}

// Ping checks connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}

// Get loads a cached value into dest. The bool reports a hit.
func (m *Manager) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetWithTags stores a value and registers its key under each tag so a
// later InvalidateByTags can remove it.
func (m *Manager) SetWithTags(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, key, data, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, tagKey(tag), key)
		pipe.Expire(ctx, tagKey(tag), ttl+tagGrace)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetOrSet returns the cached value for key, or runs fetch and caches
// its result. Redis failures are logged and the fetcher result is
// returned uncached, so callers never fail on cache trouble. dest must
// be a pointer; it receives the value either way.
func (m *Manager) GetOrSet(
	ctx context.Context,
	key string,
	dest any,
	ttl time.Duration,
	fetch func(ctx context.Context) (any, error),
	tags ...string,
) error {
	hit, err := m.Get(ctx, key, dest)
	if err != nil {
		m.logger.Warn("cache read failed, falling back to fetcher", "key", key, "error", err)
	}
	if hit {
		m.collectors.CacheHit()
		return nil
	}
	m.collectors.CacheMiss()

	value, err := fetch(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return err
	}

	if err := m.SetWithTags(ctx, key, value, ttl, tags...); err != nil {
		m.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return nil
}

// InvalidateByTags removes every key registered under the given tags.
// Returns the number of cache entries removed.
func (m *Manager) InvalidateByTags(ctx context.Context, tags ...string) (int, error) {
	removed := 0
	for _, tag := range tags {
		keys, err := m.client.SMembers(ctx, tagKey(tag)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, err
		}
		if len(keys) > 0 {
			n, err := m.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		if err := m.client.Del(ctx, tagKey(tag)).Err(); err != nil {
			return removed, err
		}
	}

	if removed > 0 {
		m.logger.Debug("cache invalidated", "tags", tags, "entries", removed)
	}
	return removed, nil
}

// InvalidateDocumentScope drops every cache entry derived from a store
// and owner, plus the global document tag. Called when a document
// reaches a terminal state.
func (m *Manager) InvalidateDocumentScope(ctx context.Context, ownerID, storeRef string) {
	_, err := m.InvalidateByTags(ctx, TagStore(storeRef), TagUser(ownerID), TagAllDocuments)
	if err != nil {
		m.logger.Warn("cache invalidation failed",
			"owner_id", ownerID, "store_ref", storeRef, "error", err)
	}
}

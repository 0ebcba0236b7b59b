package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/riot-api-client/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis   *redis.Client
	metrics metrics.Sink
}

// NewManager creates a new cache manager with Redis backend.
// A nil sink disables metrics.
func NewManager(redisClient *redis.Client, sink metrics.Sink) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if sink == nil {
		sink = metrics.Nop
	}
	return &Manager{
		redis:   redisClient,
		metrics: sink,
	}
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			m.metrics.Counter(metrics.CacheMisses, "type", key.Type).Inc()
			return nil, ErrCacheMiss
		}
		m.metrics.Counter(metrics.CacheErrors, "operation", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		m.metrics.Counter(metrics.CacheErrors, "operation", "get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if !entry.valid() {
		m.metrics.Counter(metrics.CacheErrors, "operation", "get").Inc()
		return nil, fmt.Errorf("%w: layout version %d", ErrInvalidEntry, entry.Version)
	}

	// Redis expiry and the entry's own deadline can disagree by clock skew.
	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		m.metrics.Counter(metrics.CacheMisses, "type", key.Type).Inc()
		return nil, ErrCacheMiss
	}

	m.metrics.Counter(metrics.CacheHits, "type", key.Type).Inc()
	return &entry, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
// The entry will be automatically removed from Redis when it expires.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		m.metrics.Counter(metrics.CacheErrors, "operation", "set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		m.metrics.Counter(metrics.CacheErrors, "operation", "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		m.metrics.Counter(metrics.CacheErrors, "operation", "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

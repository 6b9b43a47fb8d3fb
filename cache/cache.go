// Package cache is a small TTL key-value abstraction with in-process and
// Redis implementations. Callers treat it as an optimisation: a miss or an
// error falls back to the store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache stores opaque values with a time to live. A zero ttl means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Cache bounded by MaxEntries.
type Memory struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	items      map[string]memoryItem
	maxEntries int
}

// DefaultMaxEntries bounds a Memory cache created with maxEntries <= 0.
const DefaultMaxEntries = 10000

// NewMemory returns an empty Memory cache. A nil clock means the real clock.
func NewMemory(clock clockwork.Clock, maxEntries int) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{clock: clock, items: make(map[string]memoryItem), maxEntries: maxEntries}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return nil, ErrMiss
	}
	if !item.expires.IsZero() && !m.clock.Now().Before(item.expires) {
		delete(m.items, key)
		return nil, ErrMiss
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set implements Cache. When full, expired entries are dropped first and then
// an arbitrary entry is evicted.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if _, exists := m.items[key]; !exists && len(m.items) >= m.maxEntries {
		for k, item := range m.items {
			if !item.expires.IsZero() && !now.Before(item.expires) {
				delete(m.items, k)
			}
		}
		for k := range m.items {
			if len(m.items) < m.maxEntries {
				break
			}
			delete(m.items, k)
		}
	}

	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = now.Add(ttl)
	}
	m.items[key] = item
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Redis is a Cache backed by a Redis client. Keys are namespaced by prefix.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps client.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return value, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete implements Cache.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error)              { return nil, ErrMiss }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error                     { return nil }

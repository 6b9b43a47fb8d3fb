package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Counter increments a keyed counter atomically. The first increment of a
// key sets its time to live.
type Counter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type memoryEntry struct {
	count   int64
	expires time.Time
}

// MemoryCounter keeps counters in process. Suitable for single-node
// deployments and tests.
type MemoryCounter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	entries   map[string]*memoryEntry
	lastSweep time.Time
}

// sweepInterval bounds how often expired entries are dropped.
const sweepInterval = time.Minute

// NewMemoryCounter returns an empty MemoryCounter. A nil clock means the real clock.
func NewMemoryCounter(clock clockwork.Clock) *MemoryCounter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCounter{
		clock:     clock,
		entries:   make(map[string]*memoryEntry),
		lastSweep: clock.Now(),
	}
}

// Increment implements Counter.
func (m *MemoryCounter) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if now.Sub(m.lastSweep) >= sweepInterval {
		for k, e := range m.entries {
			if !now.Before(e.expires) {
				delete(m.entries, k)
			}
		}
		m.lastSweep = now
	}

	e, ok := m.entries[key]
	if !ok || !now.Before(e.expires) {
		e = &memoryEntry{expires: now.Add(ttl)}
		m.entries[key] = e
	}
	e.count++
	return e.count, nil
}

// Len reports how many counters are held, expired or not.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisCounter keeps counters in Redis. INCR and the first-hit PEXPIRE run in
// one script, so a counter can never be left without an expiry.
type RedisCounter struct {
	client redis.UniversalClient
}

// NewRedisCounter wraps client.
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client}
}

// Increment implements Counter.
func (r *RedisCounter) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	n, err := incrementScript.Run(ctx, r.client, []string{key}, ms).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment %s: %w", key, err)
	}
	return n, nil
}

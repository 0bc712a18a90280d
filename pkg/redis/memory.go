package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryEntry struct {
	value     string
	count     int64
	expiresAt time.Time
}

// MemoryStore is a single-process stand-in for Client used when Redis is not
// configured. Missing keys report redis.Nil like the real client.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry), now: time.Now}
}

// Get returns the value at key or redis.Nil.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.live(key)
	if entry == nil {
		return "", redis.Nil
	}
	return entry.value, nil
}

// SetNX stores value when key is absent or expired.
func (m *MemoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(key) != nil {
		return false, nil
	}
	m.entries[key] = &memoryEntry{value: fmt.Sprint(value), expiresAt: m.expiry(ttl)}
	return true, nil
}

// Del removes keys.
func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

// IdempotencyKey matches the key layout of Client.
func (m *MemoryStore) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

// FixedWindowAllow counts hits per scope in a window that starts with the first hit.
func (m *MemoryStore) FixedWindowAllow(_ context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	key := buildKey(rateLimitPrefix, scope)
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.live(key)
	if entry == nil {
		entry = &memoryEntry{expiresAt: m.expiry(window)}
		m.entries[key] = entry
	}
	entry.count++
	return entry.count <= limit, entry.count, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) live(key string) *memoryEntry {
	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return entry
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

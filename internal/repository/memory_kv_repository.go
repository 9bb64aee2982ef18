package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

type memoryKVRepository struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryKVRepository returns a process-local store.
func NewMemoryKVRepository() KeyValueRepository {
	return newMemoryKV(time.Now)
}

func newMemoryKV(now func() time.Time) *memoryKVRepository {
	return &memoryKVRepository{entries: make(map[string]memoryEntry), now: now}
}

func (r *memoryKVRepository) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || entry.expired(r.now()) {
		delete(r.entries, key)
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

func (r *memoryKVRepository) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = r.entry(value, ttl)
	return nil
}

func (r *memoryKVRepository) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[key]; ok && !entry.expired(r.now()) {
		return false, nil
	}
	r.entries[key] = r.entry(value, ttl)
	return true, nil
}

func (r *memoryKVRepository) Delete(_ context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		delete(r.entries, key)
	}
	return nil
}

func (r *memoryKVRepository) Ping(context.Context) error {
	return nil
}

func (r *memoryKVRepository) entry(value []byte, ttl time.Duration) memoryEntry {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	return entry
}

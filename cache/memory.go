package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend is an in-memory Backend.
//
// A positive capacity bounds the bytes held (keys plus values); a Put that
// would cross it fails with ErrQuotaExceeded, mirroring a browser-style
// storage quota.
type MemoryBackend struct {
	mu       sync.RWMutex
	entries  map[string][]byte
	capacity int64
	used     int64
}

// NewMemoryBackend creates a memory backend. capacity <= 0 means unbounded.
func NewMemoryBackend(capacity int64) *MemoryBackend {
	return &MemoryBackend{
		entries:  make(map[string][]byte),
		capacity: capacity,
	}
}

// Load returns the value stored under key.
func (b *MemoryBackend) Load(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Put stores value under key.
func (b *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := int64(len(key) + len(value))
	var previous int64
	if old, ok := b.entries[key]; ok {
		previous = int64(len(key) + len(old))
	}
	if b.capacity > 0 && b.used-previous+size > b.capacity {
		return ErrQuotaExceeded
	}

	b.entries[key] = append([]byte(nil), value...)
	b.used += size - previous
	return nil
}

// Delete removes key. Idempotent - no error on miss.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.entries[key]; ok {
		b.used -= int64(len(key) + len(old))
		delete(b.entries, key)
	}
	return nil
}

// Scan calls fn for each key with prefix in sorted order. fn runs without
// the backend lock held, so it may call back into the backend.
func (b *MemoryBackend) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	b.mu.RLock()
	keys := make([]string, 0, len(b.entries))
	values := make(map[string][]byte, len(b.entries))
	for k, v := range b.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
			values[k] = v
		}
	}
	b.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, append([]byte(nil), values[k]...)); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every key with prefix.
func (b *MemoryBackend) Clear(_ context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, v := range b.entries {
		if strings.HasPrefix(k, prefix) {
			b.used -= int64(len(k) + len(v))
			delete(b.entries, k)
		}
	}
	return nil
}

// Used returns the bytes currently held.
func (b *MemoryBackend) Used() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.used
}

var _ Backend = (*MemoryBackend)(nil)

package geocode

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	result  Result
	expires time.Time
}

// MemoryRepository is an in-process Repository for tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryRepository creates an empty in-memory geocode cache.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]memoryEntry)}
}

// Get returns the cached result for an address, if unexpired.
func (r *MemoryRepository) Get(_ context.Context, address string) (*Result, bool, error) {
	key := NormalizeAddress(address)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.After(time.Now()) {
		delete(r.entries, key)
		return nil, false, nil
	}

	result := entry.result
	return &result, true, nil
}

// Put stores a result keyed by its normalized address.
func (r *MemoryRepository) Put(_ context.Context, result Result, expires time.Time) error {
	result.Address = NormalizeAddress(result.Address)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[result.Address] = memoryEntry{result: result, expires: expires}
	return nil
}

// PurgeExpired removes expired entries.
func (r *MemoryRepository) PurgeExpired(_ context.Context) (int64, error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for key, entry := range r.entries {
		if !entry.expires.After(now) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}

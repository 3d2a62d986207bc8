package respcache

import (
	"context"
	"sync"
	"time"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

// MemoryRepository is an in-memory implementation of Repository for tests
// and single-process development runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data    []weather.Datum
	expires time.Time
}

// NewMemoryRepository creates an empty in-memory response cache.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]memoryEntry)}
}

// Get returns cached samples if present and unexpired, deleting expired
// entries as a side effect.
func (r *MemoryRepository) Get(_ context.Context, provider string, coord geo.Coordinate, window weather.Window) ([]weather.Datum, bool, error) {
	key := Key(provider, coord, window)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.After(time.Now()) {
		delete(r.entries, key)
		return nil, false, nil
	}

	out := make([]weather.Datum, len(e.data))
	copy(out, e.data)
	return out, true, nil
}

// Put upserts a cache entry.
func (r *MemoryRepository) Put(_ context.Context, provider string, coord geo.Coordinate, window weather.Window, data []weather.Datum, expires time.Time) error {
	if !expires.After(time.Now()) {
		return ErrPastExpiry
	}

	stored := make([]weather.Datum, len(data))
	copy(stored, data)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[Key(provider, coord, window)] = memoryEntry{data: stored, expires: expires}
	return nil
}

// PurgeExpired removes all expired entries.
func (r *MemoryRepository) PurgeExpired(_ context.Context) (int64, error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	for key, e := range r.entries {
		if !e.expires.After(now) {
			delete(r.entries, key)
			purged++
		}
	}
	return purged, nil
}

// Len reports the number of live and expired entries still held.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

package loccache

import (
	"context"
	"sync"
	"time"

	"github.com/fairwaycast/fairwaycast/internal/geo"
)

type mappingKey struct {
	provider string
	key      string
}

type catalogueKey struct {
	provider string
	setType  string
}

type catalogueEntry struct {
	catalogue Catalogue
	expires   time.Time
}

// MemoryRepository is an in-process Repository for tests and single-shot
// tooling.
type MemoryRepository struct {
	mu         sync.RWMutex
	mappings   map[mappingKey]Mapping
	catalogues map[catalogueKey]catalogueEntry
}

// NewMemoryRepository creates an empty in-memory location cache.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		mappings:   make(map[mappingKey]Mapping),
		catalogues: make(map[catalogueKey]catalogueEntry),
	}
}

// GetMapping returns the cached mapping for a provider and coordinate.
func (r *MemoryRepository) GetMapping(_ context.Context, provider string, coord geo.Coordinate) (*Mapping, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.mappings[mappingKey{provider: provider, key: coord.Round4().Key()}]
	if !ok {
		return nil, false, nil
	}
	return &m, true, nil
}

// PutMapping stores a mapping under its provider and rounded coordinate.
func (r *MemoryRepository) PutMapping(_ context.Context, m Mapping) error {
	m.Coordinate = m.Coordinate.Round4()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.mappings[mappingKey{provider: m.Provider, key: m.Coordinate.Key()}] = m
	return nil
}

// GetCatalogue returns the provider's catalogue if unexpired.
func (r *MemoryRepository) GetCatalogue(_ context.Context, provider, setType string) (*Catalogue, bool, error) {
	key := catalogueKey{provider: provider, setType: setType}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.catalogues[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.After(time.Now()) {
		delete(r.catalogues, key)
		return nil, false, nil
	}

	c := entry.catalogue
	c.Entries = append([]Entry(nil), entry.catalogue.Entries...)
	return &c, true, nil
}

// PutCatalogue stores a catalogue with its expiry.
func (r *MemoryRepository) PutCatalogue(_ context.Context, c Catalogue, expires time.Time) error {
	c.Entries = append([]Entry(nil), c.Entries...)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.catalogues[catalogueKey{provider: c.Provider, setType: c.SetType}] = catalogueEntry{
		catalogue: c,
		expires:   expires,
	}
	return nil
}

// PurgeExpired removes expired catalogues.
func (r *MemoryRepository) PurgeExpired(_ context.Context) (int64, error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for key, entry := range r.catalogues {
		if !entry.expires.After(now) {
			delete(r.catalogues, key)
			removed++
		}
	}
	return removed, nil
}

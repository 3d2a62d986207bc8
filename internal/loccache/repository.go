package loccache

import (
	"context"
	"time"

	"github.com/fairwaycast/fairwaycast/internal/geo"
)

// Repository is the location-cache persistence contract. Implementations
// must be safe under concurrent readers and writers.
type Repository interface {
	// GetMapping returns the cached mapping for a provider and rounded
	// coordinate, if any.
	GetMapping(ctx context.Context, provider string, coord geo.Coordinate) (*Mapping, bool, error)

	// PutMapping upserts a mapping, keyed UNIQUE(service, lat, lon).
	PutMapping(ctx context.Context, m Mapping) error

	// GetCatalogue returns a provider's catalogue blob if present and
	// unexpired; expired blobs are deleted on read.
	GetCatalogue(ctx context.Context, provider, setType string) (*Catalogue, bool, error)

	// PutCatalogue upserts a catalogue blob with its expiry.
	PutCatalogue(ctx context.Context, c Catalogue, expires time.Time) error

	// PurgeExpired removes expired catalogue blobs and returns the count.
	// Mappings carry no TTL: they stay valid until overwritten.
	PurgeExpired(ctx context.Context) (int64, error)
}

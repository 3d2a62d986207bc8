// Package respcache persists normalized forecast responses keyed by
// provider, rounded coordinate and exact window boundaries.
package respcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

// ErrPastExpiry rejects writes whose expiry is not strictly in the future.
var ErrPastExpiry = errors.New("cache entry expiry must be in the future")

// Repository is the response-cache contract. It extends the aggregator's
// read/write view with the maintenance sweep. Implementations must be safe
// under concurrent readers and writers; last-write-wins on key collision.
type Repository interface {
	weather.ResponseCache

	// PurgeExpired bulk-deletes entries whose expiry has passed and returns
	// how many rows were removed. Reads already self-heal, so this exists
	// for periodic maintenance, not correctness.
	PurgeExpired(ctx context.Context) (int64, error)
}

// Key encodes provider + rounded coordinate + window boundaries into the
// cache key. Windows are exact boundaries: callers must align windows
// before querying or near-identical windows become distinct entries.
func Key(provider string, coord geo.Coordinate, window weather.Window) string {
	return fmt.Sprintf("%s|%s|%s|%s",
		provider,
		coord.Key(),
		window.Start.UTC().Format(time.RFC3339),
		window.End.UTC().Format(time.RFC3339),
	)
}

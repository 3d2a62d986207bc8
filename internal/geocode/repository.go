// Package geocode resolves free-text addresses to coordinates through
// Nominatim, with a persistent cache in front of the upstream.
package geocode

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fairwaycast/fairwaycast/internal/geo"
)

// DefaultCacheTTL is how long a geocoded address stays fresh. Addresses
// move even less often than provider catalogues.
const DefaultCacheTTL = 30 * 24 * time.Hour

// ErrAddressNotFound means the upstream returned no match for the address.
var ErrAddressNotFound = errors.New("address not found")

// Result is a geocoded address.
type Result struct {
	// Address is the normalized query string.
	Address string `json:"address"`

	// Coordinate is the resolved position.
	Coordinate geo.Coordinate `json:"coordinate"`

	// DisplayName is the upstream's canonical name for the match.
	DisplayName string `json:"display_name"`
}

// NormalizeAddress canonicalizes an address for cache keying.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// Repository is the geocode cache persistence contract.
type Repository interface {
	// Get returns the cached result for a normalized address, if unexpired.
	Get(ctx context.Context, address string) (*Result, bool, error)

	// Put upserts a result with its expiry.
	Put(ctx context.Context, result Result, expires time.Time) error

	// PurgeExpired removes expired rows and returns the count.
	PurgeExpired(ctx context.Context) (int64, error)
}

// Package loccache resolves arbitrary coordinates to provider-specific
// location codes and caches both the per-coordinate mappings and the
// providers' full location catalogues.
package loccache

import (
	"errors"
	"time"

	"github.com/fairwaycast/fairwaycast/internal/geo"
)

// DefaultCatalogueTTL is how long a provider's full catalogue blob stays
// fresh. Catalogues (municipality lists and the like) change rarely; the
// long TTL avoids paying the full-catalogue fetch per coordinate.
const DefaultCatalogueTTL = 30 * 24 * time.Hour

// Location cache errors.
var (
	// ErrEmptyCatalogue means a provider returned no catalogue entries.
	ErrEmptyCatalogue = errors.New("provider catalogue is empty")
)

// Mapping associates a rounded query coordinate with the provider location
// that serves it. Never persisted when the distance exceeds the provider's
// configured maximum, so stale or irrelevant mappings cannot accumulate.
type Mapping struct {
	// Provider is the forecast provider identifier.
	Provider string `json:"provider"`

	// Coordinate is the rounded query coordinate.
	Coordinate geo.Coordinate `json:"coordinate"`

	// Code is the provider-specific location identifier (municipality id,
	// grid code).
	Code string `json:"code"`

	// Name is the human-readable location name.
	Name string `json:"name"`

	// Resolved is the location's own coordinate.
	Resolved geo.Coordinate `json:"resolved"`

	// DistanceKm is the great-circle distance from the query coordinate to
	// the resolved location.
	DistanceKm float64 `json:"distance_km"`

	// UpdatedAt is when the mapping was last refreshed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is one location in a provider's catalogue.
type Entry struct {
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	Coordinate geo.Coordinate `json:"coordinate"`
}

// Catalogue is a provider's entire enumerable location set, cached as one
// blob.
type Catalogue struct {
	// Provider is the forecast provider identifier.
	Provider string `json:"provider"`

	// SetType distinguishes multiple catalogues per provider
	// (e.g. "municipalities", "stations").
	SetType string `json:"set_type"`

	// Entries is the full location list.
	Entries []Entry `json:"entries"`

	// FetchedAt is when the catalogue was retrieved from the provider.
	FetchedAt time.Time `json:"fetched_at"`
}

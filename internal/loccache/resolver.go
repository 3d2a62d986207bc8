package loccache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

// CatalogueFunc fetches a provider's full location catalogue from its
// upstream API. Called only on a catalogue cache miss.
type CatalogueFunc func(ctx context.Context) (Catalogue, error)

// Resolver maps arbitrary coordinates to the nearest provider location,
// backed by the mapping and catalogue caches.
type Resolver struct {
	repo         Repository
	logger       zerolog.Logger
	catalogueTTL time.Duration
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Repository   Repository
	Logger       zerolog.Logger
	CatalogueTTL time.Duration
}

// NewResolver creates a Resolver. A zero CatalogueTTL falls back to
// DefaultCatalogueTTL.
func NewResolver(cfg ResolverConfig) *Resolver {
	ttl := cfg.CatalogueTTL
	if ttl <= 0 {
		ttl = DefaultCatalogueTTL
	}
	return &Resolver{
		repo:         cfg.Repository,
		logger:       cfg.Logger.With().Str("component", "location_resolver").Logger(),
		catalogueTTL: ttl,
	}
}

// Resolve returns the provider location nearest to coord.
//
// The flow is cache-first: a persisted mapping short-circuits everything,
// then the cached catalogue is scanned, and only a catalogue miss reaches
// the upstream via fetch. When maxDistanceKm is positive and the nearest
// entry lies beyond it, the coordinate is outside the provider's useful
// coverage and weather.ErrLocationUnresolved is returned without persisting
// a mapping.
func (r *Resolver) Resolve(ctx context.Context, provider, setType string, coord geo.Coordinate, maxDistanceKm float64, fetch CatalogueFunc) (*Mapping, error) {
	coord = coord.Round4()

	if m, ok, err := r.repo.GetMapping(ctx, provider, coord); err != nil {
		// Treat mapping read failures as misses; the catalogue path below
		// can still answer.
		r.logger.Warn().Err(err).
			Str("provider", provider).
			Str("coord", coord.Key()).
			Msg("mapping lookup failed, falling through to catalogue")
	} else if ok {
		return m, nil
	}

	catalogue, err := r.catalogue(ctx, provider, setType, fetch)
	if err != nil {
		return nil, err
	}
	if len(catalogue.Entries) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", provider, setType, ErrEmptyCatalogue)
	}

	nearest := catalogue.Entries[0]
	minDist := geo.Distance(coord, nearest.Coordinate)
	for _, entry := range catalogue.Entries[1:] {
		if d := geo.Distance(coord, entry.Coordinate); d < minDist {
			nearest = entry
			minDist = d
		}
	}

	if maxDistanceKm > 0 && minDist > maxDistanceKm {
		r.logger.Debug().
			Str("provider", provider).
			Str("coord", coord.Key()).
			Str("nearest", nearest.Code).
			Float64("distance_km", minDist).
			Float64("max_distance_km", maxDistanceKm).
			Msg("nearest location beyond provider coverage")
		return nil, fmt.Errorf("%s: nearest location %q is %.1f km away: %w",
			provider, nearest.Code, minDist, weather.ErrLocationUnresolved)
	}

	m := Mapping{
		Provider:   provider,
		Coordinate: coord,
		Code:       nearest.Code,
		Name:       nearest.Name,
		Resolved:   nearest.Coordinate,
		DistanceKm: minDist,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.repo.PutMapping(ctx, m); err != nil {
		// The resolution itself succeeded; losing the cache write only
		// costs a rescan next time.
		r.logger.Warn().Err(err).
			Str("provider", provider).
			Str("coord", coord.Key()).
			Msg("failed to persist location mapping")
	}

	return &m, nil
}

func (r *Resolver) catalogue(ctx context.Context, provider, setType string, fetch CatalogueFunc) (*Catalogue, error) {
	cached, ok, err := r.repo.GetCatalogue(ctx, provider, setType)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("provider", provider).
			Str("set_type", setType).
			Msg("catalogue lookup failed, refetching")
	} else if ok {
		return cached, nil
	}

	fetched, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s catalogue: %w", provider, setType, err)
	}
	fetched.Provider = provider
	fetched.SetType = setType
	if fetched.FetchedAt.IsZero() {
		fetched.FetchedAt = time.Now().UTC()
	}

	if err := r.repo.PutCatalogue(ctx, fetched, time.Now().Add(r.catalogueTTL)); err != nil {
		r.logger.Warn().Err(err).
			Str("provider", provider).
			Str("set_type", setType).
			Msg("failed to persist catalogue")
	}

	return &fetched, nil
}

// RefreshCatalogue unconditionally refetches and stores a provider's
// catalogue. Used by the maintenance worker to renew blobs before expiry.
func (r *Resolver) RefreshCatalogue(ctx context.Context, provider, setType string, fetch CatalogueFunc) error {
	fetched, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch %s/%s catalogue: %w", provider, setType, err)
	}
	fetched.Provider = provider
	fetched.SetType = setType
	if fetched.FetchedAt.IsZero() {
		fetched.FetchedAt = time.Now().UTC()
	}

	if err := r.repo.PutCatalogue(ctx, fetched, time.Now().Add(r.catalogueTTL)); err != nil {
		return fmt.Errorf("persist %s/%s catalogue: %w", provider, setType, err)
	}
	return nil
}

package weather

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairwaycast/fairwaycast/internal/geo"
)

// ResponseCache is the contract the response cache backing store satisfies.
// Implementations must be safe for concurrent readers and writers;
// last-write-wins on key collision is acceptable.
type ResponseCache interface {
	// Get returns the cached samples only if an entry exists and its expiry
	// is still in the future. An expired entry is deleted as a side effect
	// and reported as absent.
	Get(ctx context.Context, provider string, coord geo.Coordinate, window Window) ([]Datum, bool, error)

	// Put upserts, overwriting any existing entry for the same key. Expiry
	// must be strictly in the future.
	Put(ctx context.Context, provider string, coord geo.Coordinate, window Window, data []Datum, expires time.Time) error
}

// Attempt records one adapter's outcome during a lookup. Failed attempts
// are observations, not raised errors.
type Attempt struct {
	Provider string
	CacheHit bool
	Err      error
	Duration time.Duration
}

// providerStats aggregates attempt outcomes per provider for the ops surface.
type providerStats struct {
	Successes int64
	Failures  int64
	CacheHits int64
}

// ProviderStats is the exported snapshot of a provider's attempt counters.
type ProviderStats struct {
	Provider  string `json:"provider"`
	Successes int64  `json:"successes"`
	Failures  int64  `json:"failures"`
	CacheHits int64  `json:"cache_hits"`
}

// ServiceConfig holds configuration for the aggregating weather service.
type ServiceConfig struct {
	// Adapters in priority order: most specific region first, the global
	// fallback last.
	Adapters []Adapter

	// Cache is the shared response cache handle. Required.
	Cache ResponseCache

	// Logger for service operations.
	Logger zerolog.Logger
}

// Service aggregates forecasts from the configured adapters with
// first-success-wins fallback and a shared response cache.
//
// It deliberately does not merge samples from multiple providers: providers
// use different sampling grids and condition vocabularies for the same
// window, and merged output would carry inconsistent or duplicate
// timestamps. One authoritative source per request.
type Service struct {
	adapters []Adapter
	cache    ResponseCache
	logger   zerolog.Logger
	tracer   trace.Tracer

	mu    sync.Mutex
	stats map[string]*providerStats
}

// NewService creates a new aggregating weather service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		adapters: cfg.Adapters,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		tracer:   otel.Tracer("fairwaycast/weather"),
		stats:    make(map[string]*providerStats),
	}
}

// GetForecast returns one normalized forecast for the coordinate and window.
//
// Adapters whose Supports check passes are tried in configured order. For
// each: the response cache is consulted first; on a miss the adapter
// fetches; a non-empty result is cached (expiry = now + cadence) and
// returned. Provider faults are logged and the next adapter is tried.
//
// When every adapter is exhausted, or the caller's deadline passes, the
// result is ErrNoForecast. That is an expected outcome and the only error
// this method returns besides input validation.
func (s *Service) GetForecast(ctx context.Context, coord geo.Coordinate, window Window) ([]Datum, error) {
	if err := coord.Validate(); err != nil {
		return nil, err
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "weather.GetForecast",
		trace.WithAttributes(
			attribute.Float64("coord.lat", coord.Lat),
			attribute.Float64("coord.lon", coord.Lon),
			attribute.String("window.start", window.Start.Format(time.RFC3339)),
			attribute.String("window.end", window.End.Format(time.RFC3339)),
		))
	defer span.End()

	coord = coord.Round4()

	for _, adapter := range s.adapters {
		if ctx.Err() != nil {
			s.logger.Warn().
				Err(ctx.Err()).
				Msg("deadline reached before all adapters were tried")
			return nil, ErrNoForecast
		}

		if !adapter.Supports(coord) {
			continue
		}

		data, attempt := s.tryAdapter(ctx, adapter, coord, window)
		s.record(attempt)

		if attempt.Err != nil {
			s.logger.Warn().
				Err(attempt.Err).
				Str("provider", attempt.Provider).
				Dur("duration", attempt.Duration).
				Msg("adapter attempt failed, falling back")
			continue
		}
		if len(data) == 0 {
			s.logger.Debug().
				Str("provider", attempt.Provider).
				Msg("adapter returned no samples, falling back")
			continue
		}

		span.SetAttributes(
			attribute.String("provider", attempt.Provider),
			attribute.Bool("cache_hit", attempt.CacheHit),
			attribute.Int("samples", len(data)),
		)
		return data, nil
	}

	s.logger.Info().
		Float64("lat", coord.Lat).
		Float64("lon", coord.Lon).
		Msg("all adapters exhausted without a usable forecast")
	return nil, ErrNoForecast
}

// tryAdapter runs cache consult + fetch + cache populate for one adapter.
func (s *Service) tryAdapter(ctx context.Context, adapter Adapter, coord geo.Coordinate, window Window) ([]Datum, Attempt) {
	start := time.Now()
	attempt := Attempt{Provider: adapter.Name()}

	ctx, span := s.tracer.Start(ctx, "weather.tryAdapter",
		trace.WithAttributes(attribute.String("provider", adapter.Name())))
	defer span.End()

	// Cache read errors degrade to misses: correctness does not depend on
	// the cache being reachable.
	cached, ok, err := s.cache.Get(ctx, adapter.Name(), coord, window)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("provider", adapter.Name()).
			Msg("response cache read failed, treating as miss")
	} else if ok {
		attempt.CacheHit = true
		attempt.Duration = time.Since(start)
		return cached, attempt
	}

	data, err := adapter.Fetch(ctx, coord, window)
	attempt.Duration = time.Since(start)
	if err != nil {
		attempt.Err = err
		return nil, attempt
	}

	if len(data) > 0 {
		expires := time.Now().Add(adapter.Cadence())
		if putErr := s.cache.Put(ctx, adapter.Name(), coord, window, data, expires); putErr != nil {
			s.logger.Warn().
				Err(putErr).
				Str("provider", adapter.Name()).
				Msg("response cache write failed")
		}
	}

	return data, attempt
}

func (s *Service) record(a Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[a.Provider]
	if !ok {
		st = &providerStats{}
		s.stats[a.Provider] = st
	}
	switch {
	case a.Err != nil:
		st.Failures++
	case a.CacheHit:
		st.CacheHits++
		st.Successes++
	default:
		st.Successes++
	}
}

// Stats returns a snapshot of per-provider attempt counters.
func (s *Service) Stats() []ProviderStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProviderStats, 0, len(s.stats))
	for name, st := range s.stats {
		out = append(out, ProviderStats{
			Provider:  name,
			Successes: st.Successes,
			Failures:  st.Failures,
			CacheHits: st.CacheHits,
		})
	}
	return out
}

// IsNoForecast reports whether the error is the aggregator's expected
// no-data outcome.
func IsNoForecast(err error) bool {
	return errors.Is(err, ErrNoForecast)
}

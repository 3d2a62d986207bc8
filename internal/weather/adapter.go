package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/provider/resilience"
)

// Adapter is the single capability interface every forecast provider
// implements. The aggregator owns the fallback policy; adapters own region
// coverage, granularity, horizon and normalization.
type Adapter interface {
	// Name returns the provider identifier used in cache keys and logs.
	Name() string

	// Cadence is the provider's update interval. Cached responses for this
	// provider expire at fetch time + cadence.
	Cadence() time.Duration

	// Supports is a cheap bounding-box check performed before any network
	// call.
	Supports(coord geo.Coordinate) bool

	// BlockSize returns the forecast granularity in hours at the given lead
	// time. Lead times beyond the provider's maximum horizon fail fast with
	// ErrHorizonExceeded instead of being silently truncated.
	BlockSize(hoursAhead int) (int, error)

	// Fetch performs the external call, converts timestamps to UTC, maps the
	// provider's native condition codes into the unified taxonomy, and
	// returns samples sorted ascending, deduplicated and clipped to the
	// window (via NormalizeSamples).
	Fetch(ctx context.Context, coord geo.Coordinate, window Window) ([]Datum, error)
}

// TranslateTransportError maps resilient-client and context failures into
// the provider fault taxonomy. Adapters call it at their HTTP boundary.
func TranslateTransportError(provider string, err error) error {
	switch {
	case errors.Is(err, resilience.ErrRateLimited):
		return fmt.Errorf("%s: %w", provider, ErrProviderRateLimited)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return fmt.Errorf("%s: %w", provider, ErrProviderUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", provider, ErrProviderTimeout)
	default:
		return fmt.Errorf("%s: %v: %w", provider, err, ErrProviderUnavailable)
	}
}

package geocode_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaycast/fairwaycast/internal/geocode"
)

const madridResponse = `[{"lat":"40.4167047","lon":"-3.7035825","display_name":"Madrid, Spain"}]`

func newTestGeocoder(t *testing.T, handler http.HandlerFunc) (*geocode.Nominatim, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	return geocode.NewNominatim(geocode.NominatimConfig{
		BaseURL:    server.URL,
		UserAgent:  "fairwaycast-test/1.0",
		HTTPDoer:   server.Client(),
		Repository: geocode.NewMemoryRepository(),
		Logger:     zerolog.Nop(),
	}), &calls
}

func TestGeocodeResolvesAddress(t *testing.T) {
	g, _ := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "madrid, spain", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "fairwaycast-test/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(madridResponse))
	})

	result, err := g.Geocode(context.Background(), "  Madrid,   Spain ")
	require.NoError(t, err)

	assert.Equal(t, "madrid, spain", result.Address)
	assert.InDelta(t, 40.4167, result.Coordinate.Lat, 0.001)
	assert.InDelta(t, -3.7036, result.Coordinate.Lon, 0.001)
	assert.Equal(t, "Madrid, Spain", result.DisplayName)
}

func TestGeocodeUsesCache(t *testing.T) {
	g, calls := newTestGeocoder(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(madridResponse))
	})

	ctx := context.Background()
	_, err := g.Geocode(ctx, "Madrid, Spain")
	require.NoError(t, err)

	// Case and whitespace variations hit the same cache entry.
	start := time.Now()
	_, err = g.Geocode(ctx, "MADRID,  SPAIN")
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
	// A cached answer must not pay the one-per-second gate.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGeocodeNoMatch(t *testing.T) {
	g, _ := newTestGeocoder(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := g.Geocode(context.Background(), "nowhere at all")
	assert.ErrorIs(t, err, geocode.ErrAddressNotFound)
}

func TestGeocodeEmptyAddress(t *testing.T) {
	g, calls := newTestGeocoder(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(madridResponse))
	})

	_, err := g.Geocode(context.Background(), "   ")
	assert.ErrorIs(t, err, geocode.ErrAddressNotFound)
	assert.Equal(t, int64(0), calls.Load())
}

func TestGeocodeUpstreamError(t *testing.T) {
	g, _ := newTestGeocoder(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := g.Geocode(context.Background(), "Madrid")
	assert.ErrorContains(t, err, "status 400")
}

func TestGeocodeInvalidCoordinate(t *testing.T) {
	g, _ := newTestGeocoder(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"940.0","lon":"-3.7","display_name":"bogus"}]`))
	})

	_, err := g.Geocode(context.Background(), "Madrid")
	assert.Error(t, err)
}

package ipma_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/loccache"
	"github.com/fairwaycast/fairwaycast/internal/weather"
	"github.com/fairwaycast/fairwaycast/internal/weather/ipma"
)

var lisbon = geo.Coordinate{Lat: 38.7223, Lon: -9.1393}

const cityList = `{"data":[
	{"globalIdLocal":1110600,"local":"Lisboa","latitude":"38.7660","longitude":"-9.1286"},
	{"globalIdLocal":1131200,"local":"Porto","latitude":"41.1495","longitude":"-8.6108"}
]}`

func dailyForecast(days int) string {
	var rows []string
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for i := 0; i < days; i++ {
		date := today.Add(time.Duration(i) * 24 * time.Hour)
		rows = append(rows, fmt.Sprintf(
			`{"forecastDate":%q,"tMin":"9.0","tMax":"16.0","precipitaProb":"30.0","predWindDir":"NW","classWindSpeed":2,"idWeatherType":2}`,
			date.Format("2006-01-02")))
	}
	return fmt.Sprintf(`{"data":[%s]}`, strings.Join(rows, ","))
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *ipma.Adapter {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	resolver := loccache.NewResolver(loccache.ResolverConfig{
		Repository: loccache.NewMemoryRepository(),
		Logger:     zerolog.Nop(),
	})

	return ipma.New(ipma.Config{
		BaseURL:         server.URL,
		HTTPDoer:        server.Client(),
		Resolver:        resolver,
		MinCallInterval: -1,
		Logger:          zerolog.Nop(),
	})
}

func fixtureHandler(t *testing.T, days int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "distrits-islands.json"):
			_, _ = w.Write([]byte(cityList))
		case strings.Contains(r.URL.Path, "/cities/daily/"):
			assert.True(t, strings.HasSuffix(r.URL.Path, "1110600.json"))
			_, _ = w.Write([]byte(dailyForecast(days)))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}
}

func TestSupportsPortugueseTerritory(t *testing.T) {
	a := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {})

	assert.True(t, a.Supports(lisbon))
	assert.True(t, a.Supports(geo.Coordinate{Lat: 32.65, Lon: -16.9})) // Funchal
	assert.True(t, a.Supports(geo.Coordinate{Lat: 37.74, Lon: -25.67})) // Ponta Delgada
	assert.False(t, a.Supports(geo.Coordinate{Lat: 40.4168, Lon: -3.7038}))
}

func TestBlockSizeDailyOnly(t *testing.T) {
	a := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {})

	size, err := a.BlockSize(100)
	require.NoError(t, err)
	assert.Equal(t, 24, size)

	_, err = a.BlockSize(121)
	assert.ErrorIs(t, err, weather.ErrHorizonExceeded)
}

func TestFetchResolvesNearestCityAndExpandsDays(t *testing.T) {
	a := newTestAdapter(t, fixtureHandler(t, 5))

	start := time.Now().UTC().Add(time.Hour)
	window := weather.NewWindow(start, start.Add(48*time.Hour))

	data, err := a.Fetch(context.Background(), lisbon, window)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	first := data[0]
	assert.Equal(t, 12.5, first.Temperature)
	require.NotNil(t, first.PrecipitationProb)
	assert.Equal(t, 30.0, *first.PrecipitationProb)
	assert.Equal(t, 5.5, first.WindSpeed)
	assert.Equal(t, 315.0, first.WindDirection)
	assert.Equal(t, 24*time.Hour, first.BlockDuration)
	assert.Equal(t, weather.ConditionPartlyCloudyDay, first.Code)

	// Today's block overlaps the window start, so its sample is anchored
	// there.
	assert.True(t, first.Time.Equal(window.Start))
}

func TestFetchFailsClosedFarFromAnyCity(t *testing.T) {
	a := newTestAdapter(t, fixtureHandler(t, 5))

	// Inside the Azores box but hundreds of km from the catalogued cities.
	remote := geo.Coordinate{Lat: 39.5, Lon: -31.2}
	window := weather.NewWindow(time.Now(), time.Now().Add(24*time.Hour))

	_, err := a.Fetch(context.Background(), remote, window)
	assert.ErrorIs(t, err, weather.ErrLocationUnresolved)
}

func TestFetchHorizonFailsFast(t *testing.T) {
	called := false
	a := newTestAdapter(t, func(http.ResponseWriter, *http.Request) { called = true })

	window := weather.NewWindow(time.Now(), time.Now().Add(200*time.Hour))
	_, err := a.Fetch(context.Background(), lisbon, window)
	assert.ErrorIs(t, err, weather.ErrHorizonExceeded)
	assert.False(t, called)
}

func TestFetchCatalogueReused(t *testing.T) {
	catalogueFetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "distrits-islands.json") {
			catalogueFetches++
			_, _ = w.Write([]byte(cityList))
			return
		}
		_, _ = w.Write([]byte(dailyForecast(5)))
	}))
	t.Cleanup(server.Close)

	resolver := loccache.NewResolver(loccache.ResolverConfig{
		Repository: loccache.NewMemoryRepository(),
		Logger:     zerolog.Nop(),
	})
	a := ipma.New(ipma.Config{
		BaseURL:         server.URL,
		HTTPDoer:        server.Client(),
		Resolver:        resolver,
		MinCallInterval: -1,
		Logger:          zerolog.Nop(),
	})

	window := weather.NewWindow(time.Now(), time.Now().Add(24*time.Hour))
	_, err := a.Fetch(context.Background(), lisbon, window)
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), geo.Coordinate{Lat: 41.15, Lon: -8.61}, window)
	require.NoError(t, err)

	assert.Equal(t, 1, catalogueFetches)
}

func TestFetchDefaultGateFailsFastWhenBusy(t *testing.T) {
	server := httptest.NewServer(fixtureHandler(t, 5))
	t.Cleanup(server.Close)

	resolver := loccache.NewResolver(loccache.ResolverConfig{
		Repository: loccache.NewMemoryRepository(),
		Logger:     zerolog.Nop(),
	})
	// MinCallInterval left zero: the 30s provider default applies.
	a := ipma.New(ipma.Config{
		BaseURL:  server.URL,
		HTTPDoer: server.Client(),
		Resolver: resolver,
		Logger:   zerolog.Nop(),
	})

	start := time.Now().UTC().Add(time.Hour)
	window := weather.NewWindow(start, start.Add(24*time.Hour))

	// A cold fetch covers catalogue and forecast calls with one gate slot,
	// so it never blocks in the gate even with the production interval.
	begin := time.Now()
	data, err := a.Fetch(context.Background(), lisbon, window)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Less(t, time.Since(begin), 2*time.Second)

	// A second fetch inside the interval fails fast with the rate-limit
	// sentinel so the aggregator falls through to another provider.
	begin = time.Now()
	_, err = a.Fetch(context.Background(), lisbon, window)
	assert.ErrorIs(t, err, weather.ErrProviderRateLimited)
	assert.Less(t, time.Since(begin), time.Second)
}

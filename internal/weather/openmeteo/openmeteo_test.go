package openmeteo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/weather"
	"github.com/fairwaycast/fairwaycast/internal/weather/openmeteo"
)

var sydney = geo.Coordinate{Lat: -33.8688, Lon: 151.2093}

// fixtureBase is tomorrow at 00:00 UTC (10:00 local in Sydney): inside the
// one-hour block range and daytime at the fixture longitude.
func fixtureBase() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

func fixtureResponse(base time.Time, hours int) string {
	type hourly struct {
		Time                     []string   `json:"time"`
		Temperature              []float64  `json:"temperature_2m"`
		Precipitation            []float64  `json:"precipitation"`
		PrecipitationProbability []*float64 `json:"precipitation_probability"`
		WeatherCode              []int      `json:"weathercode"`
		WindSpeed                []float64  `json:"windspeed_10m"`
		WindDirection            []float64  `json:"winddirection_10m"`
	}

	var h hourly
	prob := 20.0
	for i := 0; i < hours; i++ {
		t := base.Add(time.Duration(i) * time.Hour)
		h.Time = append(h.Time, t.Format("2006-01-02T15:04"))
		h.Temperature = append(h.Temperature, 22.0)
		h.Precipitation = append(h.Precipitation, 0.0)
		h.PrecipitationProbability = append(h.PrecipitationProbability, &prob)
		h.WeatherCode = append(h.WeatherCode, 0)
		h.WindSpeed = append(h.WindSpeed, 5.5)
		h.WindDirection = append(h.WindDirection, 90.0)
	}

	payload, _ := json.Marshal(map[string]any{"hourly": h})
	return string(payload)
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *openmeteo.Adapter {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return openmeteo.New(openmeteo.Config{
		BaseURL:  server.URL,
		HTTPDoer: server.Client(),
		Logger:   zerolog.Nop(),
	})
}

func TestSupportsIsGlobal(t *testing.T) {
	a := openmeteo.New(openmeteo.Config{})

	assert.True(t, a.Supports(sydney))
	assert.True(t, a.Supports(geo.Coordinate{Lat: 89.0, Lon: -179.0}))
}

func TestBlockSizeTiers(t *testing.T) {
	a := openmeteo.New(openmeteo.Config{})

	size, err := a.BlockSize(24)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	size, err = a.BlockSize(100)
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	size, err = a.BlockSize(300)
	require.NoError(t, err)
	assert.Equal(t, 6, size)

	_, err = a.BlockSize(385)
	assert.ErrorIs(t, err, weather.ErrHorizonExceeded)
}

func TestFetchMapsHourlyArrays(t *testing.T) {
	base := fixtureBase()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "-33.8688", q.Get("latitude"))
		assert.Equal(t, "ms", q.Get("windspeed_unit"))
		assert.Equal(t, "UTC", q.Get("timezone"))
		_, _ = w.Write([]byte(fixtureResponse(base, 6)))
	})

	window := weather.NewWindow(base, base.Add(5*time.Hour))
	data, err := a.Fetch(context.Background(), sydney, window)
	require.NoError(t, err)
	require.Len(t, data, 6)

	first := data[0]
	assert.True(t, first.Time.Equal(base))
	assert.Equal(t, 22.0, first.Temperature)
	assert.Equal(t, 5.5, first.WindSpeed)
	require.NotNil(t, first.PrecipitationProb)
	assert.Equal(t, 20.0, *first.PrecipitationProb)
	assert.Equal(t, time.Hour, first.BlockDuration)

	// WMO code 0 at 10:00 local is clear sky, day variant.
	assert.Equal(t, weather.ConditionClearSkyDay, first.Code)
}

func TestFetchUnknownWMOCode(t *testing.T) {
	base := fixtureBase()

	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(fixtureResponse(base, 1)), &payload))
		payload["hourly"].(map[string]any)["weathercode"] = []int{42}
		out, _ := json.Marshal(payload)
		_, _ = w.Write(out)
	})

	window := weather.NewWindow(base, base.Add(time.Hour))
	data, err := a.Fetch(context.Background(), sydney, window)
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, weather.ConditionUnknown, data[0].Code)
}

func TestFetchRaggedArrays(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"hourly":{"time":["2024-01-15T12:00"],"temperature_2m":[]}}`))
	})

	window := weather.NewWindow(time.Now(), time.Now().Add(time.Hour))
	_, err := a.Fetch(context.Background(), sydney, window)
	assert.ErrorIs(t, err, weather.ErrInvalidResponse)
}

func TestFetchHorizonFailsFast(t *testing.T) {
	called := false
	a := newTestAdapter(t, func(http.ResponseWriter, *http.Request) { called = true })

	window := weather.NewWindow(time.Now(), time.Now().Add(400*time.Hour))
	_, err := a.Fetch(context.Background(), sydney, window)
	assert.ErrorIs(t, err, weather.ErrHorizonExceeded)
	assert.False(t, called)
}

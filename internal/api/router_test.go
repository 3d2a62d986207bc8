package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaycast/fairwaycast/internal/api"
	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/geocode"
	"github.com/fairwaycast/fairwaycast/internal/provider/resilience"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

type stubForecastService struct {
	data []weather.Datum
	err  error

	lastCoord  geo.Coordinate
	lastWindow weather.Window
}

func (s *stubForecastService) GetForecast(_ context.Context, coord geo.Coordinate, window weather.Window) ([]weather.Datum, error) {
	s.lastCoord = coord
	s.lastWindow = window
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func (s *stubForecastService) Stats() []weather.ProviderStats {
	return []weather.ProviderStats{{Provider: "metno", Successes: 3}}
}

type stubGeocoder struct {
	result *geocode.Result
	err    error
}

func (g *stubGeocoder) Geocode(context.Context, string) (*geocode.Result, error) {
	return g.result, g.err
}

func sampleData() []weather.Datum {
	return []weather.Datum{{
		Time:          time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		Temperature:   15.5,
		Code:          weather.ConditionClearSkyDay,
		BlockDuration: time.Hour,
	}}
}

func newTestServer(t *testing.T, svc *stubForecastService, gc *stubGeocoder) *httptest.Server {
	t.Helper()

	router := api.NewRouter(api.RouterConfig{
		Version:         "test",
		Logger:          zerolog.Nop(),
		ForecastService: svc,
		Geocoder:        gc,
		Registry:        resilience.NewRegistry(),
		Stats:           svc,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestGetForecastByCoordinate(t *testing.T) {
	svc := &stubForecastService{data: sampleData()}
	server := newTestServer(t, svc, nil)

	resp, err := http.Get(server.URL + "/v1/forecast?lat=40.4168&lon=-3.7038")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var body struct {
		Count int             `json:"count"`
		Data  []weather.Datum `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Data, 1)
	assert.Equal(t, 15.5, body.Data[0].Temperature)
	assert.Equal(t, weather.ConditionClearSkyDay, body.Data[0].Code)

	// Default window: next 48 hours.
	assert.InDelta(t, 48*time.Hour, svc.lastWindow.Duration(), float64(time.Hour))
}

func TestGetForecastByAddress(t *testing.T) {
	svc := &stubForecastService{data: sampleData()}
	gc := &stubGeocoder{result: &geocode.Result{
		Coordinate:  geo.Coordinate{Lat: 40.4168, Lon: -3.7038},
		DisplayName: "Madrid, Spain",
	}}
	server := newTestServer(t, svc, gc)

	resp, err := http.Get(server.URL + "/v1/forecast?address=Madrid")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Location struct {
			Address string `json:"address"`
		} `json:"location"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Madrid, Spain", body.Location.Address)
	assert.Equal(t, 40.4168, svc.lastCoord.Lat)
}

func TestGetForecastExplicitWindow(t *testing.T) {
	svc := &stubForecastService{data: sampleData()}
	server := newTestServer(t, svc, nil)

	url := server.URL + "/v1/forecast?lat=40.0&lon=-3.0" +
		"&start=2024-01-15T12:00:00Z&end=2024-01-15T14:00:00Z"
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, svc.lastWindow.Start.Equal(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)))
	assert.True(t, svc.lastWindow.End.Equal(time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)))
}

func TestGetForecastNoForecastIs404Problem(t *testing.T) {
	svc := &stubForecastService{err: weather.ErrNoForecast}
	server := newTestServer(t, svc, nil)

	resp, err := http.Get(server.URL + "/v1/forecast?lat=40.0&lon=-3.0")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))

	var problem struct {
		Status  int    `json:"status"`
		TraceID string `json:"traceId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, http.StatusNotFound, problem.Status)
	assert.NotEmpty(t, problem.TraceID)
}

func TestGetForecastValidation(t *testing.T) {
	svc := &stubForecastService{data: sampleData()}
	server := newTestServer(t, svc, nil)

	cases := []struct {
		name  string
		query string
	}{
		{"missing coordinates", ""},
		{"bad latitude", "?lat=abc&lon=-3.0"},
		{"out of range", "?lat=91&lon=0"},
		{"bad start", "?lat=40&lon=-3&start=yesterday"},
		{"inverted window", "?lat=40&lon=-3&start=2024-01-16T00:00:00Z&end=2024-01-15T00:00:00Z"},
		{"address plus coords", "?lat=40&lon=-3&address=Madrid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + "/v1/forecast" + tc.query)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetForecastUnknownAddress(t *testing.T) {
	svc := &stubForecastService{data: sampleData()}
	gc := &stubGeocoder{err: fmt.Errorf("lookup: %w", geocode.ErrAddressNotFound)}
	server := newTestServer(t, svc, gc)

	resp, err := http.Get(server.URL + "/v1/forecast?address=nowhere")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOpsHealth(t *testing.T) {
	svc := &stubForecastService{}
	server := newTestServer(t, svc, nil)

	resp, err := http.Get(server.URL + "/v1/ops/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "test", body.Version)
}

func TestOpsProviders(t *testing.T) {
	svc := &stubForecastService{}
	server := newTestServer(t, svc, nil)

	resp, err := http.Get(server.URL + "/v1/ops/providers")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Stats []weather.ProviderStats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Stats, 1)
	assert.Equal(t, "metno", body.Stats[0].Provider)
}

func TestRequestIDPropagation(t *testing.T) {
	svc := &stubForecastService{data: sampleData()}
	server := newTestServer(t, svc, nil)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/v1/ops/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req_incoming")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "req_incoming", resp.Header.Get("X-Request-Id"))
}

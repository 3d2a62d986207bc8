// Package ipma adapts the IPMA (Instituto Português do Mar e da Atmosfera)
// daily city forecast API. Coverage is Portugal including Madeira and the
// Azores; forecasts resolve through the nearest catalogued city.
package ipma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/loccache"
	"github.com/fairwaycast/fairwaycast/internal/provider/resilience"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

const (
	// Name is the provider identifier.
	Name = "ipma"

	// CatalogueSetType is the loccache set holding IPMA's city list.
	CatalogueSetType = "cities"

	defaultBaseURL = "https://api.ipma.pt"

	cadence = time.Hour

	// IPMA publishes five days of daily forecasts.
	maxHorizonHours = 120

	// IPMA throttles aggressively; space calls well apart.
	minCallInterval = 30 * time.Second

	// DefaultMaxDistanceKm bounds how far a catalogued city may sit from
	// the query coordinate before resolution fails closed.
	DefaultMaxDistanceKm = 50.0
)

// coverage holds the Portuguese territory boxes: mainland, Madeira and the
// Azores.
var coverage = []geo.BoundingBox{
	{MinLat: 36.8, MaxLat: 42.2, MinLon: -9.6, MaxLon: -6.1},
	{MinLat: 32.2, MaxLat: 33.3, MinLon: -17.4, MaxLon: -16.2},
	{MinLat: 36.8, MaxLat: 39.9, MinLon: -31.5, MaxLon: -24.8},
}

// Config configures the IPMA adapter.
type Config struct {
	// BaseURL overrides the public endpoint.
	BaseURL string

	// HTTPDoer overrides the default resilient client.
	HTTPDoer HTTPDoer

	// Resolver maps coordinates to catalogued cities. Required.
	Resolver *loccache.Resolver

	// MaxDistanceKm overrides DefaultMaxDistanceKm.
	MaxDistanceKm float64

	// MinCallInterval overrides the provider default; negative disables the
	// gate.
	MinCallInterval time.Duration

	Logger zerolog.Logger
}

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements weather.Adapter for IPMA.
type Adapter struct {
	baseURL       string
	httpDoer      HTTPDoer
	resolver      *loccache.Resolver
	maxDistanceKm float64
	gate          *resilience.CallGate
	logger        zerolog.Logger
}

// New creates the adapter.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPDoer == nil {
		cfg.HTTPDoer = resilience.NewClient(resilience.DefaultClientConfig(Name))
	}
	if cfg.MaxDistanceKm <= 0 {
		cfg.MaxDistanceKm = DefaultMaxDistanceKm
	}
	if cfg.MinCallInterval == 0 {
		cfg.MinCallInterval = minCallInterval
	}
	return &Adapter{
		baseURL:       cfg.BaseURL,
		httpDoer:      cfg.HTTPDoer,
		resolver:      cfg.Resolver,
		maxDistanceKm: cfg.MaxDistanceKm,
		gate:          resilience.NewCallGate(cfg.MinCallInterval),
		logger:        cfg.Logger.With().Str("provider", Name).Logger(),
	}
}

// Name returns the provider identifier.
func (a *Adapter) Name() string { return Name }

// Cadence returns the model update interval.
func (a *Adapter) Cadence() time.Duration { return cadence }

// Supports reports whether the coordinate lies in Portuguese territory.
func (a *Adapter) Supports(coord geo.Coordinate) bool {
	for _, box := range coverage {
		if box.Contains(coord) {
			return true
		}
	}
	return false
}

// BlockSize returns 24h blocks out to the horizon: IPMA's city product is
// daily only.
func (a *Adapter) BlockSize(hoursAhead int) (int, error) {
	if hoursAhead > maxHorizonHours {
		return 0, fmt.Errorf("%d hours ahead: %w", hoursAhead, weather.ErrHorizonExceeded)
	}
	return 24, nil
}

type catalogueResponse struct {
	Data []struct {
		GlobalIDLocal int    `json:"globalIdLocal"`
		Local         string `json:"local"`
		Latitude      string `json:"latitude"`
		Longitude     string `json:"longitude"`
	} `json:"data"`
}

type forecastResponse struct {
	Data []struct {
		ForecastDate   string `json:"forecastDate"`
		TMin           string `json:"tMin"`
		TMax           string `json:"tMax"`
		PrecipitaProb  string `json:"precipitaProb"`
		PredWindDir    string `json:"predWindDir"`
		ClassWindSpeed int    `json:"classWindSpeed"`
		IDWeatherType  int    `json:"idWeatherType"`
	} `json:"data"`
}

// Fetch resolves the nearest catalogued city, retrieves its daily forecast
// and expands the days overlapping the window into 24h blocks.
func (a *Adapter) Fetch(ctx context.Context, coord geo.Coordinate, window weather.Window) ([]weather.Datum, error) {
	if _, err := a.BlockSize(window.HoursAhead(time.Now())); err != nil {
		return nil, err
	}

	// One gate slot covers the whole logical fetch. A busy gate fails fast
	// so the aggregator can fall through to another provider instead of
	// burning the caller's deadline here.
	if !a.gate.TryReserve() {
		return nil, fmt.Errorf("%s: minimum call interval not elapsed: %w", Name, weather.ErrProviderRateLimited)
	}

	mapping, err := a.resolver.Resolve(ctx, Name, CatalogueSetType, coord, a.maxDistanceKm, a.FetchCatalogue)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/open-data/forecast/meteorology/cities/daily/%s.json", a.baseURL, mapping.Code)
	payload, err := a.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var forecast forecastResponse
	if err := json.Unmarshal(payload, &forecast); err != nil {
		return nil, fmt.Errorf("decode daily forecast: %w", weather.ErrInvalidResponse)
	}

	samples := make([]weather.Datum, 0, len(forecast.Data))
	for _, day := range forecast.Data {
		date, err := time.Parse("2006-01-02", day.ForecastDate)
		if err != nil {
			continue
		}
		blockEnd := date.Add(24 * time.Hour)
		if blockEnd.Before(window.Start) || date.After(window.End) {
			continue
		}

		tMin, errMin := strconv.ParseFloat(day.TMin, 64)
		tMax, errMax := strconv.ParseFloat(day.TMax, 64)
		if errMin != nil || errMax != nil {
			continue
		}

		var prob *float64
		if p, err := strconv.ParseFloat(day.PrecipitaProb, 64); err == nil {
			prob = &p
		}

		// A day block overlapping the window start is anchored at the
		// window start so clipping keeps it.
		sampleTime := date
		if sampleTime.Before(window.Start) {
			sampleTime = window.Start
		}

		samples = append(samples, weather.Datum{
			Time:              sampleTime,
			Temperature:       (tMin + tMax) / 2,
			PrecipitationProb: prob,
			WindSpeed:         windClassSpeed(day.ClassWindSpeed),
			WindDirection:     windDirectionDegrees(day.PredWindDir),
			Code:              mapWeatherType(day.IDWeatherType, date.Add(12*time.Hour), coord.Lon),
			BlockDuration:     24 * time.Hour,
		})
	}

	return weather.NormalizeSamples(samples, window), nil
}

// FetchCatalogue downloads the city roster. The maintenance worker calls
// this to refresh the cached catalogue ahead of its TTL.
func (a *Adapter) FetchCatalogue(ctx context.Context) (loccache.Catalogue, error) {
	payload, err := a.get(ctx, a.baseURL+"/open-data/distrits-islands.json")
	if err != nil {
		return loccache.Catalogue{}, err
	}

	var list catalogueResponse
	if err := json.Unmarshal(payload, &list); err != nil {
		return loccache.Catalogue{}, fmt.Errorf("decode city list: %w", weather.ErrInvalidResponse)
	}

	entries := make([]loccache.Entry, 0, len(list.Data))
	for _, city := range list.Data {
		lat, errLat := strconv.ParseFloat(city.Latitude, 64)
		lon, errLon := strconv.ParseFloat(city.Longitude, 64)
		if errLat != nil || errLon != nil {
			continue
		}
		entries = append(entries, loccache.Entry{
			Code:       strconv.Itoa(city.GlobalIDLocal),
			Name:       city.Local,
			Coordinate: geo.Coordinate{Lat: lat, Lon: lon},
		})
	}

	return loccache.Catalogue{Entries: entries}, nil
}

func (a *Adapter) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := a.httpDoer.Do(req)
	if err != nil {
		return nil, weather.TranslateTransportError(Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, weather.ErrProviderUnavailable)
	}

	return io.ReadAll(resp.Body)
}

// weatherTypes maps IPMA idWeatherType values to base conditions.
var weatherTypes = map[int]weather.Condition{
	1:  "clearsky",
	2:  "partlycloudy",
	3:  "partlycloudy",
	4:  weather.ConditionCloudy,
	5:  weather.ConditionCloudy,
	6:  "rainshowers",
	7:  "rainshowers",
	8:  "rainshowers",
	9:  "rainshowers",
	10: weather.ConditionLightRain,
	11: weather.ConditionHeavyRain,
	12: weather.ConditionRain,
	13: weather.ConditionLightRain,
	14: weather.ConditionHeavyRain,
	15: weather.ConditionLightRain,
	16: weather.ConditionFog,
	17: weather.ConditionFog,
	18: weather.ConditionSnow,
	19: weather.ConditionThunder,
	20: weather.ConditionRainAndThunder,
	21: weather.ConditionSleet,
	22: "fair",
	23: weather.ConditionRainAndThunder,
	24: weather.ConditionCloudy,
	25: "partlycloudy",
	26: weather.ConditionFog,
	27: weather.ConditionCloudy,
}

func mapWeatherType(id int, t time.Time, lon float64) weather.Condition {
	base, ok := weatherTypes[id]
	if !ok {
		return weather.ConditionUnknown
	}
	return weather.DayVariant(base, t, lon)
}

// windClassSpeed converts IPMA's 1-4 wind class to a representative speed
// in m/s.
func windClassSpeed(class int) float64 {
	switch class {
	case 1:
		return 2.0
	case 2:
		return 5.5
	case 3:
		return 8.5
	case 4:
		return 11.0
	default:
		return 0
	}
}

var windDirections = map[string]float64{
	"N": 0, "NE": 45, "E": 90, "SE": 135,
	"S": 180, "SW": 225, "W": 270, "NW": 315,
}

func windDirectionDegrees(dir string) float64 {
	return windDirections[dir]
}

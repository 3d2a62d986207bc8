// Package openmeteo adapts the Open-Meteo forecast API. It is the global
// fallback: no API key, worldwide coverage and the longest horizon.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/provider/resilience"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

const (
	// Name is the provider identifier.
	Name = "openmeteo"

	defaultBaseURL = "https://api.open-meteo.com"

	cadence = time.Hour

	// Open-Meteo serves up to 16 days of lead time.
	maxHorizonHours = 384
	maxForecastDays = 16

	minCallInterval = time.Second
)

// Config configures the Open-Meteo adapter.
type Config struct {
	// BaseURL overrides the public endpoint.
	BaseURL string

	// HTTPDoer overrides the default resilient client.
	HTTPDoer HTTPDoer

	Logger zerolog.Logger
}

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements weather.Adapter for Open-Meteo.
type Adapter struct {
	baseURL  string
	httpDoer HTTPDoer
	gate     *resilience.CallGate
	logger   zerolog.Logger
}

// New creates the adapter.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPDoer == nil {
		cfg.HTTPDoer = resilience.NewClient(resilience.DefaultClientConfig(Name))
	}
	return &Adapter{
		baseURL:  cfg.BaseURL,
		httpDoer: cfg.HTTPDoer,
		gate:     resilience.NewCallGate(minCallInterval),
		logger:   cfg.Logger.With().Str("provider", Name).Logger(),
	}
}

// Name returns the provider identifier.
func (a *Adapter) Name() string { return Name }

// Cadence returns the model update interval.
func (a *Adapter) Cadence() time.Duration { return cadence }

// Supports always reports true: Open-Meteo is the global fallback.
func (a *Adapter) Supports(geo.Coordinate) bool { return true }

// BlockSize returns 1h blocks for the first 48 hours, 3h out to a week and
// 6h to the horizon.
func (a *Adapter) BlockSize(hoursAhead int) (int, error) {
	switch {
	case hoursAhead <= 48:
		return 1, nil
	case hoursAhead <= 168:
		return 3, nil
	case hoursAhead <= maxHorizonHours:
		return 6, nil
	default:
		return 0, fmt.Errorf("%d hours ahead: %w", hoursAhead, weather.ErrHorizonExceeded)
	}
}

type forecastResponse struct {
	Hourly struct {
		Time                     []string   `json:"time"`
		Temperature              []float64  `json:"temperature_2m"`
		Precipitation            []float64  `json:"precipitation"`
		PrecipitationProbability []*float64 `json:"precipitation_probability"`
		WeatherCode              []int      `json:"weathercode"`
		WindSpeed                []float64  `json:"windspeed_10m"`
		WindDirection            []float64  `json:"winddirection_10m"`
	} `json:"hourly"`
}

// hourlyTimeLayout is Open-Meteo's ISO8601 minute-precision format.
const hourlyTimeLayout = "2006-01-02T15:04"

// Fetch retrieves hourly data and resamples it onto the coarser block grid
// at longer lead times.
func (a *Adapter) Fetch(ctx context.Context, coord geo.Coordinate, window weather.Window) ([]weather.Datum, error) {
	now := time.Now()
	if _, err := a.BlockSize(window.HoursAhead(now)); err != nil {
		return nil, err
	}
	if err := a.gate.Wait(ctx); err != nil {
		return nil, err
	}

	days := window.HoursAhead(now)/24 + 1
	if days > maxForecastDays {
		days = maxForecastDays
	}

	query := url.Values{
		"latitude":       {fmt.Sprintf("%.4f", coord.Lat)},
		"longitude":      {fmt.Sprintf("%.4f", coord.Lon)},
		"hourly":         {"temperature_2m,precipitation,precipitation_probability,weathercode,windspeed_10m,winddirection_10m"},
		"windspeed_unit": {"ms"},
		"timezone":       {"UTC"},
		"forecast_days":  {strconv.Itoa(days)},
	}
	endpoint := fmt.Sprintf("%s/v1/forecast?%s", a.baseURL, query.Encode())

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

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var payload forecastResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", weather.ErrInvalidResponse)
	}

	hourly := payload.Hourly
	n := len(hourly.Time)
	if len(hourly.Temperature) != n || len(hourly.WeatherCode) != n ||
		len(hourly.Precipitation) != n || len(hourly.WindSpeed) != n ||
		len(hourly.WindDirection) != n {
		return nil, fmt.Errorf("ragged hourly arrays: %w", weather.ErrInvalidResponse)
	}

	samples := make([]weather.Datum, 0, n)
	for i := 0; i < n; i++ {
		t, err := time.Parse(hourlyTimeLayout, hourly.Time[i])
		if err != nil {
			return nil, fmt.Errorf("parse instant %q: %w", hourly.Time[i], weather.ErrInvalidResponse)
		}
		t = t.UTC()

		block, err := a.BlockSize(weather.NewWindow(t, t).HoursAhead(now))
		if err != nil {
			continue
		}
		// Coarser blocks keep only grid-aligned instants, so three- and
		// six-hour samples sit on a regular boundary.
		if t.Hour()%block != 0 {
			continue
		}

		var prob *float64
		if i < len(hourly.PrecipitationProbability) {
			prob = hourly.PrecipitationProbability[i]
		}

		samples = append(samples, weather.Datum{
			Time:              t,
			Temperature:       hourly.Temperature[i],
			Precipitation:     hourly.Precipitation[i],
			PrecipitationProb: prob,
			WindSpeed:         hourly.WindSpeed[i],
			WindDirection:     hourly.WindDirection[i],
			Code:              mapWMOCode(hourly.WeatherCode[i], t, coord.Lon),
			BlockDuration:     time.Duration(block) * time.Hour,
		})
	}

	return weather.NormalizeSamples(samples, window), nil
}

// wmoConditions maps WMO 4677 weather codes to base conditions. Variant
// bases go through DayVariant afterwards.
var wmoConditions = map[int]weather.Condition{
	0:  "clearsky",
	1:  "fair",
	2:  "partlycloudy",
	3:  weather.ConditionCloudy,
	45: weather.ConditionFog,
	48: weather.ConditionFog,
	51: weather.ConditionLightRain,
	53: weather.ConditionLightRain,
	55: weather.ConditionRain,
	56: weather.ConditionSleet,
	57: weather.ConditionSleet,
	61: weather.ConditionLightRain,
	63: weather.ConditionRain,
	65: weather.ConditionHeavyRain,
	66: weather.ConditionSleet,
	67: weather.ConditionSleet,
	71: weather.ConditionLightSnow,
	73: weather.ConditionSnow,
	75: weather.ConditionHeavySnow,
	77: weather.ConditionSnow,
	80: "rainshowers",
	81: "rainshowers",
	82: "rainshowers",
	85: "snowshowers",
	86: "snowshowers",
	95: weather.ConditionRainAndThunder,
	96: weather.ConditionRainAndThunder,
	99: weather.ConditionRainAndThunder,
}

func mapWMOCode(code int, t time.Time, lon float64) weather.Condition {
	base, ok := wmoConditions[code]
	if !ok {
		return weather.ConditionUnknown
	}
	return weather.DayVariant(base, t, lon)
}

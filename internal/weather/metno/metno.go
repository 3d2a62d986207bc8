// Package metno adapts the met.no Locationforecast 2.0 API. Coverage is
// prioritized for the Nordics, where the model resolution is best.
package metno

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/provider/resilience"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

const (
	// Name is the provider identifier.
	Name = "metno"

	defaultBaseURL = "https://api.met.no"

	// met.no publishes new model runs roughly hourly.
	cadence = time.Hour

	// Locationforecast covers about nine days of lead time.
	maxHorizonHours = 216

	minCallInterval = time.Second
)

// nordicBox bounds the region where met.no is consulted before the global
// fallback. The API itself answers worldwide, but its high-resolution model
// only covers the Nordics.
var nordicBox = geo.BoundingBox{MinLat: 54.0, MaxLat: 72.0, MinLon: 4.0, MaxLon: 32.0}

// Config configures the met.no adapter.
type Config struct {
	// BaseURL overrides the public endpoint.
	BaseURL string

	// UserAgent is mandatory: met.no blocks anonymous clients.
	UserAgent string

	// HTTPDoer overrides the default resilient client.
	HTTPDoer HTTPDoer

	Logger zerolog.Logger
}

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements weather.Adapter for met.no.
type Adapter struct {
	baseURL   string
	userAgent string
	httpDoer  HTTPDoer
	gate      *resilience.CallGate
	logger    zerolog.Logger
}

// New creates the adapter. The user agent is required by met.no's terms of
// service, so an empty one is a configuration error.
func New(cfg Config) (*Adapter, error) {
	if cfg.UserAgent == "" {
		return nil, errors.New("metno: user agent is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPDoer == nil {
		cfg.HTTPDoer = resilience.NewClient(resilience.DefaultClientConfig(Name))
	}
	return &Adapter{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		httpDoer:  cfg.HTTPDoer,
		gate:      resilience.NewCallGate(minCallInterval),
		logger:    cfg.Logger.With().Str("provider", Name).Logger(),
	}, nil
}

// Name returns the provider identifier.
func (a *Adapter) Name() string { return Name }

// Cadence returns the model update interval.
func (a *Adapter) Cadence() time.Duration { return cadence }

// Supports reports whether the coordinate lies in the Nordic priority box.
func (a *Adapter) Supports(coord geo.Coordinate) bool {
	return nordicBox.Contains(coord)
}

// BlockSize returns 1h blocks for the first 48 hours and 6h blocks out to
// the horizon.
func (a *Adapter) BlockSize(hoursAhead int) (int, error) {
	switch {
	case hoursAhead <= 48:
		return 1, nil
	case hoursAhead <= maxHorizonHours:
		return 6, nil
	default:
		return 0, fmt.Errorf("%d hours ahead: %w", hoursAhead, weather.ErrHorizonExceeded)
	}
}

type forecastResponse struct {
	Properties struct {
		Timeseries []struct {
			Time time.Time `json:"time"`
			Data struct {
				Instant struct {
					Details struct {
						AirTemperature    float64 `json:"air_temperature"`
						WindSpeed         float64 `json:"wind_speed"`
						WindFromDirection float64 `json:"wind_from_direction"`
					} `json:"details"`
				} `json:"instant"`
				NextOneHours *forecastPeriod `json:"next_1_hours"`
				NextSixHours *forecastPeriod `json:"next_6_hours"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

type forecastPeriod struct {
	Summary struct {
		SymbolCode string `json:"symbol_code"`
	} `json:"summary"`
	Details struct {
		PrecipitationAmount        float64  `json:"precipitation_amount"`
		ProbabilityOfPrecipitation *float64 `json:"probability_of_precipitation"`
		ProbabilityOfThunder       *float64 `json:"probability_of_thunder"`
	} `json:"details"`
}

// Fetch retrieves the complete Locationforecast and normalizes it into the
// requested window.
func (a *Adapter) Fetch(ctx context.Context, coord geo.Coordinate, window weather.Window) ([]weather.Datum, error) {
	if _, err := a.BlockSize(window.HoursAhead(time.Now())); err != nil {
		return nil, err
	}
	if err := a.gate.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{
		"lat": {fmt.Sprintf("%.4f", coord.Lat)},
		"lon": {fmt.Sprintf("%.4f", coord.Lon)},
	}
	endpoint := fmt.Sprintf("%s/weatherapi/locationforecast/2.0/complete?%s", a.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", a.userAgent)

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
		return nil, fmt.Errorf("decode locationforecast: %w", weather.ErrInvalidResponse)
	}

	samples := make([]weather.Datum, 0, len(payload.Properties.Timeseries))
	for _, entry := range payload.Properties.Timeseries {
		period := entry.Data.NextOneHours
		blockDuration := time.Hour
		if period == nil {
			period = entry.Data.NextSixHours
			blockDuration = 6 * time.Hour
		}
		if period == nil {
			continue
		}

		samples = append(samples, weather.Datum{
			Time:              entry.Time.UTC(),
			Temperature:       entry.Data.Instant.Details.AirTemperature,
			Precipitation:     period.Details.PrecipitationAmount,
			PrecipitationProb: period.Details.ProbabilityOfPrecipitation,
			WindSpeed:         entry.Data.Instant.Details.WindSpeed,
			WindDirection:     entry.Data.Instant.Details.WindFromDirection,
			Code:              mapSymbol(period.Summary.SymbolCode, entry.Time, coord.Lon),
			ThunderProb:       period.Details.ProbabilityOfThunder,
			BlockDuration:     blockDuration,
		})
	}

	return weather.NormalizeSamples(samples, window), nil
}

// symbolFallbacks maps met.no symbols outside the unified set to the
// nearest base condition. Day/night resolution happens afterwards.
var symbolFallbacks = map[string]weather.Condition{
	"lightrainshowers":             "rainshowers",
	"heavyrainshowers":             "rainshowers",
	"lightsnowshowers":             "snowshowers",
	"heavysnowshowers":             "snowshowers",
	"sleetshowers":                 weather.ConditionSleet,
	"lightsleet":                   weather.ConditionSleet,
	"heavysleet":                   weather.ConditionSleet,
	"lightsleetshowers":            weather.ConditionSleet,
	"heavysleetshowers":            weather.ConditionSleet,
	"lightrainandthunder":          weather.ConditionRainAndThunder,
	"heavyrainandthunder":          weather.ConditionRainAndThunder,
	"rainshowersandthunder":        weather.ConditionRainAndThunder,
	"lightrainshowersandthunder":   weather.ConditionRainAndThunder,
	"heavyrainshowersandthunder":   weather.ConditionRainAndThunder,
	"lightsnowandthunder":          weather.ConditionSnowAndThunder,
	"heavysnowandthunder":          weather.ConditionSnowAndThunder,
	"snowshowersandthunder":        weather.ConditionSnowAndThunder,
	"lightssnowshowersandthunder":  weather.ConditionSnowAndThunder,
	"heavysnowshowersandthunder":   weather.ConditionSnowAndThunder,
	"sleetandthunder":              weather.ConditionRainAndThunder,
	"sleetshowersandthunder":       weather.ConditionRainAndThunder,
	"lightssleetshowersandthunder": weather.ConditionRainAndThunder,
	"heavysleetshowersandthunder":  weather.ConditionRainAndThunder,
}

// mapSymbol validates a met.no symbol code against the unified taxonomy.
// met.no symbols are the taxonomy's origin, so most pass through; the rest
// collapse onto their nearest base, and anything unrecognized degrades to
// cloudy rather than unknown because met.no always describes sky state.
func mapSymbol(symbol string, t time.Time, lon float64) weather.Condition {
	symbol = strings.ReplaceAll(symbol, "_polartwilight", "_night")

	if c := weather.Condition(symbol); c.IsKnown() {
		return c
	}

	base := symbol
	if idx := strings.IndexByte(symbol, '_'); idx > 0 {
		base = symbol[:idx]
	}
	if fallback, ok := symbolFallbacks[base]; ok {
		return weather.DayVariant(fallback, t, lon)
	}
	if c := weather.DayVariant(weather.Condition(base), t, lon); c.IsKnown() {
		return c
	}
	return weather.ConditionCloudy
}

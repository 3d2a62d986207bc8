// Package aemet adapts the AEMET OpenData municipal forecast API. Coverage
// is Spain including the Canary Islands; forecasts resolve through the
// nearest municipality.
//
// AEMET answers every data request with an envelope carrying a one-shot
// "datos" URL, so each product costs two round trips.
package aemet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/loccache"
	"github.com/fairwaycast/fairwaycast/internal/provider/resilience"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

const (
	// Name is the provider identifier.
	Name = "aemet"

	// CatalogueSetType is the loccache set holding AEMET's municipality
	// list.
	CatalogueSetType = "municipalities"

	defaultBaseURL = "https://opendata.aemet.es/opendata"

	cadence = time.Hour

	// Hourly product covers 48h, the daily product fills out to a week.
	hourlyHorizonHours = 48
	maxHorizonHours    = 168

	// AEMET throttles hard; one fetch a minute keeps the key alive.
	minCallInterval = time.Minute

	// DefaultMaxDistanceKm bounds how far a municipality may sit from the
	// query coordinate before resolution fails closed.
	DefaultMaxDistanceKm = 50.0
)

// coverage holds the Spanish territory boxes: mainland plus Balearics, and
// the Canary Islands.
var coverage = []geo.BoundingBox{
	{MinLat: 35.9, MaxLat: 43.9, MinLon: -9.4, MaxLon: 4.4},
	{MinLat: 27.5, MaxLat: 29.5, MinLon: -18.3, MaxLon: -13.3},
}

// Config configures the AEMET adapter.
type Config struct {
	// BaseURL overrides the public endpoint.
	BaseURL string

	// APIKey is the AEMET OpenData key, sent on every request. Required.
	APIKey string

	// HTTPDoer overrides the default resilient client.
	HTTPDoer HTTPDoer

	// Resolver maps coordinates to municipalities. Required.
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

// Adapter implements weather.Adapter for AEMET.
type Adapter struct {
	baseURL       string
	apiKey        string
	httpDoer      HTTPDoer
	resolver      *loccache.Resolver
	maxDistanceKm float64
	gate          *resilience.CallGate
	logger        zerolog.Logger

	// madrid is the forecast timezone: AEMET publishes local instants.
	madrid *time.Location
}

// New creates the adapter. The API key is required.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("aemet: api key is required")
	}
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

	madrid, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		return nil, fmt.Errorf("aemet: load timezone: %w", err)
	}

	return &Adapter{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		httpDoer:      cfg.HTTPDoer,
		resolver:      cfg.Resolver,
		maxDistanceKm: cfg.MaxDistanceKm,
		gate:          resilience.NewCallGate(cfg.MinCallInterval),
		logger:        cfg.Logger.With().Str("provider", Name).Logger(),
		madrid:        madrid,
	}, nil
}

// Name returns the provider identifier.
func (a *Adapter) Name() string { return Name }

// Cadence returns the model update interval.
func (a *Adapter) Cadence() time.Duration { return cadence }

// Supports reports whether the coordinate lies in Spanish territory.
func (a *Adapter) Supports(coord geo.Coordinate) bool {
	for _, box := range coverage {
		if box.Contains(coord) {
			return true
		}
	}
	return false
}

// BlockSize returns 1h blocks while the hourly product covers the lead time
// and 24h blocks out to the weekly horizon.
func (a *Adapter) BlockSize(hoursAhead int) (int, error) {
	switch {
	case hoursAhead <= hourlyHorizonHours:
		return 1, nil
	case hoursAhead <= maxHorizonHours:
		return 24, nil
	default:
		return 0, fmt.Errorf("%d hours ahead: %w", hoursAhead, weather.ErrHorizonExceeded)
	}
}

// Fetch resolves the nearest municipality, retrieves the hourly product and,
// when the window extends past the hourly horizon, the daily product too.
func (a *Adapter) Fetch(ctx context.Context, coord geo.Coordinate, window weather.Window) ([]weather.Datum, error) {
	now := time.Now()
	if _, err := a.BlockSize(window.HoursAhead(now)); err != nil {
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

	samples, err := a.fetchHourly(ctx, mapping.Code, coord.Lon)
	if err != nil {
		return nil, err
	}

	if window.HoursAhead(now) > hourlyHorizonHours {
		daily, err := a.fetchDaily(ctx, mapping.Code, coord.Lon, window)
		if err != nil {
			return nil, err
		}
		// Hourly samples win where the products overlap; NormalizeSamples
		// dedupes by instant with first-wins after the stable sort, so the
		// cutoff here keeps the day blocks strictly past hourly coverage.
		cutoff := hourlyCoverageEnd(samples)
		for _, d := range daily {
			if !d.Time.Before(cutoff) {
				samples = append(samples, d)
			}
		}
	}

	return weather.NormalizeSamples(samples, window), nil
}

func hourlyCoverageEnd(samples []weather.Datum) time.Time {
	var end time.Time
	for _, s := range samples {
		if blockEnd := s.Time.Add(s.BlockDuration); blockEnd.After(end) {
			end = blockEnd
		}
	}
	return end
}

// envelope is AEMET's indirection wrapper: the real payload lives behind
// the datos URL.
type envelope struct {
	Estado int    `json:"estado"`
	Datos  string `json:"datos"`
}

type timedValue struct {
	Value   string `json:"value"`
	Periodo string `json:"periodo"`
}

type hourlyPayload []struct {
	Prediccion struct {
		Dia []struct {
			Fecha             string       `json:"fecha"`
			EstadoCielo       []timedValue `json:"estadoCielo"`
			Precipitacion     []timedValue `json:"precipitacion"`
			ProbPrecipitacion []timedValue `json:"probPrecipitacion"`
			ProbTormenta      []timedValue `json:"probTormenta"`
			Temperatura       []timedValue `json:"temperatura"`
			VientoAndRachaMax []struct {
				Direccion []string `json:"direccion"`
				Velocidad []string `json:"velocidad"`
				Periodo   string   `json:"periodo"`
			} `json:"vientoAndRachaMax"`
		} `json:"dia"`
	} `json:"prediccion"`
}

func (a *Adapter) fetchHourly(ctx context.Context, code string, lon float64) ([]weather.Datum, error) {
	body, err := a.getViaEnvelope(ctx, fmt.Sprintf("%s/api/prediccion/especifica/municipio/horaria/%s", a.baseURL, code))
	if err != nil {
		return nil, err
	}

	var payload hourlyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode hourly forecast: %w", weather.ErrInvalidResponse)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty hourly forecast: %w", weather.ErrInvalidResponse)
	}

	var samples []weather.Datum
	for _, day := range payload[0].Prediccion.Dia {
		date, err := time.ParseInLocation("2006-01-02T15:04:05", day.Fecha, a.madrid)
		if err != nil {
			continue
		}

		temps := hourIndex(day.Temperatura)
		skies := hourIndex(day.EstadoCielo)
		precip := hourIndex(day.Precipitacion)
		probPrecip := rangeIndex(day.ProbPrecipitacion)
		probThunder := rangeIndex(day.ProbTormenta)

		winds := map[int]windValue{}
		for _, w := range day.VientoAndRachaMax {
			hour, err := strconv.Atoi(w.Periodo)
			if err != nil || len(w.Direccion) == 0 || len(w.Velocidad) == 0 {
				continue
			}
			speed, _ := strconv.ParseFloat(w.Velocidad[0], 64)
			winds[hour] = windValue{direction: w.Direccion[0], speedKmh: speed}
		}

		for hour, tempRaw := range temps {
			temp, err := strconv.ParseFloat(tempRaw, 64)
			if err != nil {
				continue
			}
			instant := date.Add(time.Duration(hour) * time.Hour).UTC()

			var amount float64
			if raw, ok := precip[hour]; ok {
				// AEMET writes "Ip" for trace amounts.
				if v, err := strconv.ParseFloat(raw, 64); err == nil {
					amount = v
				}
			}

			wind := winds[hour]

			samples = append(samples, weather.Datum{
				Time:              instant,
				Temperature:       temp,
				Precipitation:     amount,
				PrecipitationProb: probPrecip.lookup(hour),
				WindSpeed:         wind.speedKmh / 3.6,
				WindDirection:     windDirectionDegrees(wind.direction),
				Code:              mapSkyCode(skies[hour], instant, lon),
				ThunderProb:       probThunder.lookup(hour),
				BlockDuration:     time.Hour,
			})
		}
	}

	return samples, nil
}

type dailyPayload []struct {
	Prediccion struct {
		Dia []struct {
			Fecha             string       `json:"fecha"`
			EstadoCielo       []timedValue `json:"estadoCielo"`
			ProbPrecipitacion []timedValue `json:"probPrecipitacion"`
			Temperatura       struct {
				Maxima float64 `json:"maxima"`
				Minima float64 `json:"minima"`
			} `json:"temperatura"`
			Viento []struct {
				Direccion string  `json:"direccion"`
				Velocidad float64 `json:"velocidad"`
				Periodo   string  `json:"periodo"`
			} `json:"viento"`
		} `json:"dia"`
	} `json:"prediccion"`
}

func (a *Adapter) fetchDaily(ctx context.Context, code string, lon float64, window weather.Window) ([]weather.Datum, error) {
	body, err := a.getViaEnvelope(ctx, fmt.Sprintf("%s/api/prediccion/especifica/municipio/diaria/%s", a.baseURL, code))
	if err != nil {
		return nil, err
	}

	var payload dailyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode daily forecast: %w", weather.ErrInvalidResponse)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty daily forecast: %w", weather.ErrInvalidResponse)
	}

	var samples []weather.Datum
	for _, day := range payload[0].Prediccion.Dia {
		date, err := time.ParseInLocation("2006-01-02T15:04:05", day.Fecha, a.madrid)
		if err != nil {
			continue
		}
		instant := date.UTC()
		if instant.Add(24 * time.Hour).Before(window.Start) || instant.After(window.End) {
			continue
		}

		var sky string
		for _, s := range day.EstadoCielo {
			if s.Periodo == "" || s.Periodo == "00-24" {
				sky = s.Value
				break
			}
		}

		var prob *float64
		for _, p := range day.ProbPrecipitacion {
			if p.Periodo == "" || p.Periodo == "00-24" {
				if v, err := strconv.ParseFloat(p.Value, 64); err == nil {
					prob = &v
				}
				break
			}
		}

		var windSpeed, windDir float64
		for _, w := range day.Viento {
			if w.Periodo == "" || w.Periodo == "00-24" {
				windSpeed = w.Velocidad / 3.6
				windDir = windDirectionDegrees(w.Direccion)
				break
			}
		}

		samples = append(samples, weather.Datum{
			Time:              instant,
			Temperature:       (day.Temperatura.Maxima + day.Temperatura.Minima) / 2,
			PrecipitationProb: prob,
			WindSpeed:         windSpeed,
			WindDirection:     windDir,
			Code:              mapSkyCode(sky, instant.Add(12*time.Hour), lon),
			BlockDuration:     24 * time.Hour,
		})
	}

	return samples, nil
}

type catalogueEntry struct {
	ID          string `json:"id"`
	Nombre      string `json:"nombre"`
	LatitudDec  string `json:"latitud_dec"`
	LongitudDec string `json:"longitud_dec"`
}

// FetchCatalogue downloads the full municipality roster. The maintenance
// worker calls this to refresh the cached catalogue ahead of its TTL.
func (a *Adapter) FetchCatalogue(ctx context.Context) (loccache.Catalogue, error) {
	body, err := a.get(ctx, a.baseURL+"/api/maestro/municipios")
	if err != nil {
		return loccache.Catalogue{}, err
	}

	var list []catalogueEntry
	if err := json.Unmarshal(body, &list); err != nil {
		return loccache.Catalogue{}, fmt.Errorf("decode municipality list: %w", weather.ErrInvalidResponse)
	}

	entries := make([]loccache.Entry, 0, len(list))
	for _, muni := range list {
		lat, errLat := strconv.ParseFloat(muni.LatitudDec, 64)
		lon, errLon := strconv.ParseFloat(muni.LongitudDec, 64)
		if errLat != nil || errLon != nil {
			continue
		}
		entries = append(entries, loccache.Entry{
			// Municipality ids come prefixed, e.g. "id28079".
			Code:       strings.TrimPrefix(muni.ID, "id"),
			Name:       muni.Nombre,
			Coordinate: geo.Coordinate{Lat: lat, Lon: lon},
		})
	}

	return loccache.Catalogue{Entries: entries}, nil
}

// getViaEnvelope performs the two-step AEMET dance: fetch the envelope,
// then fetch the datos URL it points at.
func (a *Adapter) getViaEnvelope(ctx context.Context, endpoint string) ([]byte, error) {
	body, err := a.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", weather.ErrInvalidResponse)
	}
	if env.Estado != http.StatusOK || env.Datos == "" {
		return nil, fmt.Errorf("envelope estado %d: %w", env.Estado, weather.ErrProviderUnavailable)
	}

	return a.get(ctx, env.Datos)
}

func (a *Adapter) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("api_key", a.apiKey)

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

type windValue struct {
	direction string
	speedKmh  float64
}

// hourIndex keys timed values by their two-digit hour period.
func hourIndex(values []timedValue) map[int]string {
	out := make(map[int]string, len(values))
	for _, v := range values {
		hour, err := strconv.Atoi(v.Periodo)
		if err != nil {
			continue
		}
		out[hour] = v.Value
	}
	return out
}

// hourRange is a value attached to an "HHHH" start-end period, the format
// AEMET uses for probabilities.
type hourRange struct {
	start, end int
	value      float64
}

type hourRanges []hourRange

func rangeIndex(values []timedValue) hourRanges {
	out := make(hourRanges, 0, len(values))
	for _, v := range values {
		if len(v.Periodo) != 4 {
			continue
		}
		start, errS := strconv.Atoi(v.Periodo[:2])
		end, errE := strconv.Atoi(v.Periodo[2:])
		value, errV := strconv.ParseFloat(v.Value, 64)
		if errS != nil || errE != nil || errV != nil {
			continue
		}
		out = append(out, hourRange{start: start, end: end, value: value})
	}
	return out
}

func (r hourRanges) lookup(hour int) *float64 {
	for _, rng := range r {
		if hour >= rng.start && hour < rng.end {
			v := rng.value
			return &v
		}
	}
	return nil
}

// skyConditions maps AEMET estadoCielo codes to base conditions. Codes
// carry an "n" suffix at night, which is stripped: day/night resolution
// uses the sample instant instead.
var skyConditions = map[string]weather.Condition{
	"11": "clearsky",
	"12": "fair",
	"13": "partlycloudy",
	"14": "partlycloudy",
	"15": weather.ConditionCloudy,
	"16": weather.ConditionCloudy,
	"17": "fair",
	"23": weather.ConditionRain,
	"24": weather.ConditionRain,
	"25": weather.ConditionRain,
	"26": weather.ConditionRain,
	"27": "rainshowers",
	"33": weather.ConditionSnow,
	"34": weather.ConditionSnow,
	"35": weather.ConditionSnow,
	"36": weather.ConditionSnow,
	"43": weather.ConditionLightRain,
	"44": weather.ConditionLightRain,
	"45": weather.ConditionLightRain,
	"46": weather.ConditionLightRain,
	"51": weather.ConditionRainAndThunder,
	"52": weather.ConditionRainAndThunder,
	"53": weather.ConditionRainAndThunder,
	"54": weather.ConditionRainAndThunder,
	"61": weather.ConditionThunder,
	"62": weather.ConditionThunder,
	"63": weather.ConditionThunder,
	"64": weather.ConditionThunder,
	"71": weather.ConditionLightSnow,
	"72": weather.ConditionLightSnow,
	"73": weather.ConditionLightSnow,
	"74": weather.ConditionLightSnow,
	"81": weather.ConditionFog,
	"82": weather.ConditionFog,
	"83": weather.ConditionFog,
}

func mapSkyCode(code string, t time.Time, lon float64) weather.Condition {
	code = strings.TrimSuffix(code, "n")
	base, ok := skyConditions[code]
	if !ok {
		return weather.ConditionUnknown
	}
	return weather.DayVariant(base, t, lon)
}

var windDirections = map[string]float64{
	"N": 0, "NE": 45, "E": 90, "SE": 135,
	"S": 180, "SO": 225, "O": 270, "NO": 315,
}

// windDirectionDegrees translates AEMET's Spanish compass points (O for
// west, SO, NO).
func windDirectionDegrees(dir string) float64 {
	return windDirections[dir]
}

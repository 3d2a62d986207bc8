package geocode

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
)

const defaultNominatimBaseURL = "https://nominatim.openstreetmap.org"

// nominatimMinInterval is Nominatim's usage-policy maximum of one request
// per second.
const nominatimMinInterval = time.Second

// HTTPDoer executes HTTP requests. Satisfied by *resilience.Client and by
// *http.Client in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NominatimConfig configures the geocoder.
type NominatimConfig struct {
	// BaseURL overrides the public Nominatim endpoint.
	BaseURL string

	// UserAgent identifies this service; Nominatim rejects anonymous
	// clients.
	UserAgent string

	// HTTPDoer overrides the default resilient client.
	HTTPDoer HTTPDoer

	// Repository is the geocode cache. Required.
	Repository Repository

	// CacheTTL overrides DefaultCacheTTL.
	CacheTTL time.Duration

	Logger zerolog.Logger
}

// Nominatim geocodes addresses through the OpenStreetMap Nominatim API,
// cache-aside over the persistent geocode cache.
type Nominatim struct {
	baseURL   string
	userAgent string
	httpDoer  HTTPDoer
	repo      Repository
	gate      *resilience.CallGate
	cacheTTL  time.Duration
	logger    zerolog.Logger
}

// NewNominatim creates a geocoder.
func NewNominatim(cfg NominatimConfig) *Nominatim {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNominatimBaseURL
	}
	if cfg.HTTPDoer == nil {
		cfg.HTTPDoer = resilience.NewClient(resilience.DefaultClientConfig("nominatim"))
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Nominatim{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		httpDoer:  cfg.HTTPDoer,
		repo:      cfg.Repository,
		gate:      resilience.NewCallGate(nominatimMinInterval),
		cacheTTL:  cfg.CacheTTL,
		logger:    cfg.Logger.With().Str("component", "geocoder").Logger(),
	}
}

type nominatimMatch struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode resolves an address to a coordinate. Cached results bypass the
// upstream entirely, so only cold addresses pay the one-per-second gate.
func (n *Nominatim) Geocode(ctx context.Context, address string) (*Result, error) {
	address = NormalizeAddress(address)
	if address == "" {
		return nil, fmt.Errorf("empty address: %w", ErrAddressNotFound)
	}

	if cached, ok, err := n.repo.Get(ctx, address); err != nil {
		n.logger.Warn().Err(err).Str("address", address).Msg("geocode cache read failed")
	} else if ok {
		return cached, nil
	}

	if err := n.gate.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := n.search(ctx, address)
	if err != nil {
		return nil, err
	}

	if err := n.repo.Put(ctx, *result, time.Now().Add(n.cacheTTL)); err != nil {
		n.logger.Warn().Err(err).Str("address", address).Msg("geocode cache write failed")
	}

	return result, nil
}

func (n *Nominatim) search(ctx context.Context, address string) (*Result, error) {
	query := url.Values{
		"q":      {address},
		"format": {"json"},
		"limit":  {"1"},
	}
	endpoint := fmt.Sprintf("%s/search?%s", n.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build nominatim request: %w", err)
	}
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}

	resp, err := n.httpDoer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read nominatim response: %w", err)
	}

	var matches []nominatimMatch
	if err := json.Unmarshal(body, &matches); err != nil {
		return nil, fmt.Errorf("decode nominatim response: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%q: %w", address, ErrAddressNotFound)
	}

	lat, err := strconv.ParseFloat(matches[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parse nominatim latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(matches[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parse nominatim longitude: %w", err)
	}

	coord := geo.Coordinate{Lat: lat, Lon: lon}
	if err := coord.Validate(); err != nil {
		return nil, fmt.Errorf("nominatim coordinate: %w", err)
	}

	return &Result{
		Address:     address,
		Coordinate:  coord,
		DisplayName: matches[0].DisplayName,
	}, nil
}

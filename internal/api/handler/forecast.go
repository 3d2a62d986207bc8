// Package handler contains the HTTP handlers for the forecast API.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fairwaycast/fairwaycast/internal/api/models"
	"github.com/fairwaycast/fairwaycast/internal/api/response"
	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/geocode"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

// defaultWindowHours is the window length when end is omitted.
const defaultWindowHours = 48

// ForecastService is the aggregating weather service contract.
type ForecastService interface {
	GetForecast(ctx context.Context, coord geo.Coordinate, window weather.Window) ([]weather.Datum, error)
}

// Geocoder resolves an address into a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*geocode.Result, error)
}

// ForecastHandler serves forecast lookups.
type ForecastHandler struct {
	service  ForecastService
	geocoder Geocoder
}

// NewForecastHandler creates a new forecast handler. The geocoder is
// optional; without one the address parameter is rejected.
func NewForecastHandler(service ForecastService, geocoder Geocoder) *ForecastHandler {
	return &ForecastHandler{service: service, geocoder: geocoder}
}

// forecastResponse is the wire shape of a successful lookup.
type forecastResponse struct {
	Location locationInfo    `json:"location"`
	Window   weather.Window  `json:"window"`
	Count    int             `json:"count"`
	Data     []weather.Datum `json:"data"`
}

type locationInfo struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address,omitempty"`
}

// GetForecast handles GET /v1/forecast.
//
// Callers pass either lat and lon, or address. The window defaults to the
// next 48 hours; start and end accept RFC3339.
func (h *ForecastHandler) GetForecast(w http.ResponseWriter, r *http.Request) {
	location, fieldErrs := h.resolveLocation(r)
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid location parameters", fieldErrs)
		return
	}
	if location == nil {
		// Address lookup failed against a healthy upstream.
		response.NotFound(w, r, "address could not be resolved")
		return
	}

	window, fieldErrs := parseWindow(r)
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid window parameters", fieldErrs)
		return
	}

	coord := geo.Coordinate{Lat: location.Lat, Lon: location.Lon}
	data, err := h.service.GetForecast(r.Context(), coord, window)
	switch {
	case err == nil:
		response.JSON(w, r, http.StatusOK, forecastResponse{
			Location: *location,
			Window:   window,
			Count:    len(data),
			Data:     data,
		})
	case errors.Is(err, weather.ErrNoForecast):
		response.NotFound(w, r, "no provider could produce a forecast for this location and window")
	case errors.Is(err, geo.ErrInvalidLatitude), errors.Is(err, geo.ErrInvalidLongitude):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, weather.ErrInvalidWindow):
		response.BadRequest(w, r, err.Error(), nil)
	default:
		response.InternalError(w, r, "forecast lookup failed")
	}
}

// resolveLocation extracts the coordinate from lat/lon or address. A nil
// location with no field errors means the address did not resolve.
func (h *ForecastHandler) resolveLocation(r *http.Request) (*locationInfo, []models.FieldError) {
	q := r.URL.Query()
	latRaw, lonRaw, address := q.Get("lat"), q.Get("lon"), q.Get("address")

	if address != "" {
		if latRaw != "" || lonRaw != "" {
			return nil, []models.FieldError{{
				Field: "address", Message: "address and lat/lon are mutually exclusive",
			}}
		}
		if h.geocoder == nil {
			return nil, []models.FieldError{{
				Field: "address", Message: "address lookup is not enabled",
			}}
		}

		result, err := h.geocoder.Geocode(r.Context(), address)
		if err != nil {
			if errors.Is(err, geocode.ErrAddressNotFound) {
				return nil, nil
			}
			return nil, []models.FieldError{{
				Field: "address", Message: "address lookup failed",
			}}
		}
		return &locationInfo{
			Lat:     result.Coordinate.Lat,
			Lon:     result.Coordinate.Lon,
			Address: result.DisplayName,
		}, nil
	}

	var fieldErrs []models.FieldError
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "lat", Message: "must be a number"})
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "lon", Message: "must be a number"})
	}
	if len(fieldErrs) > 0 {
		return nil, fieldErrs
	}

	coord := geo.Coordinate{Lat: lat, Lon: lon}
	if err := coord.Validate(); err != nil {
		return nil, []models.FieldError{{Field: "lat,lon", Message: err.Error()}}
	}

	return &locationInfo{Lat: lat, Lon: lon}, nil
}

func parseWindow(r *http.Request) (weather.Window, []models.FieldError) {
	q := r.URL.Query()
	now := time.Now().UTC().Truncate(time.Hour)

	start := now
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return weather.Window{}, []models.FieldError{{
				Field: "start", Message: fmt.Sprintf("must be RFC3339, got %q", raw),
			}}
		}
		start = t
	}

	end := start.Add(defaultWindowHours * time.Hour)
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return weather.Window{}, []models.FieldError{{
				Field: "end", Message: fmt.Sprintf("must be RFC3339, got %q", raw),
			}}
		}
		end = t
	}

	window := weather.NewWindow(start, end)
	if err := window.Validate(); err != nil {
		return weather.Window{}, []models.FieldError{{
			Field: "start,end", Message: "end must not precede start",
		}}
	}

	return window, nil
}

// Package weather defines the unified forecast model shared by all provider
// adapters and the aggregating service.
package weather

import (
	"errors"
	"time"
)

// Provider fault taxonomy. All of these are caught and logged at the
// aggregator boundary; none of them propagate to callers.
var (
	// ErrProviderUnsupported means the coordinate is outside a provider's
	// coverage. Not a failure, the aggregator just skips the provider.
	ErrProviderUnsupported = errors.New("coordinate outside provider coverage")

	// ErrProviderTimeout means the provider did not answer within the deadline.
	ErrProviderTimeout = errors.New("provider timed out")

	// ErrProviderRateLimited means the provider throttled the request.
	ErrProviderRateLimited = errors.New("provider rate limited")

	// ErrProviderUnavailable covers non-2xx responses and connection failures.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInvalidResponse means the provider payload could not be parsed.
	ErrInvalidResponse = errors.New("invalid provider response")

	// ErrLocationUnresolved means no catalogue entry lies within the
	// provider's maximum distance of the query coordinate.
	ErrLocationUnresolved = errors.New("no provider location within max distance")

	// ErrHorizonExceeded means the requested window ends beyond the
	// provider's maximum forecast horizon.
	ErrHorizonExceeded = errors.New("window beyond provider forecast horizon")

	// ErrNoForecast is the aggregator's only observable failure mode: every
	// adapter was exhausted (or the caller's deadline passed) without a
	// usable result. Callers must treat it as an expected outcome.
	ErrNoForecast = errors.New("no forecast available")

	// ErrInvalidWindow means the requested window is malformed.
	ErrInvalidWindow = errors.New("invalid forecast window")
)

// Condition is the unified weather-code taxonomy. Every adapter maps its
// native codes onto this closed set; unmapped codes fall back to
// ConditionCloudy or ConditionUnknown via an explicit default table.
type Condition string

const (
	ConditionClearSkyDay       Condition = "clearsky_day"
	ConditionClearSkyNight     Condition = "clearsky_night"
	ConditionFairDay           Condition = "fair_day"
	ConditionFairNight         Condition = "fair_night"
	ConditionPartlyCloudyDay   Condition = "partlycloudy_day"
	ConditionPartlyCloudyNight Condition = "partlycloudy_night"
	ConditionCloudy            Condition = "cloudy"
	ConditionFog               Condition = "fog"
	ConditionLightRain         Condition = "lightrain"
	ConditionRain              Condition = "rain"
	ConditionHeavyRain         Condition = "heavyrain"
	ConditionRainShowersDay    Condition = "rainshowers_day"
	ConditionRainShowersNight  Condition = "rainshowers_night"
	ConditionLightSnow         Condition = "lightsnow"
	ConditionSnow              Condition = "snow"
	ConditionHeavySnow         Condition = "heavysnow"
	ConditionSnowShowersDay    Condition = "snowshowers_day"
	ConditionSnowShowersNight  Condition = "snowshowers_night"
	ConditionSleet             Condition = "sleet"
	ConditionThunder           Condition = "thunder"
	ConditionRainAndThunder    Condition = "rainandthunder"
	ConditionSnowAndThunder    Condition = "snowandthunder"
	ConditionUnknown           Condition = "unknown"
)

// knownConditions is the closed set accepted from providers whose native
// vocabulary already matches the taxonomy (met.no symbol codes).
var knownConditions = map[Condition]struct{}{
	ConditionClearSkyDay: {}, ConditionClearSkyNight: {},
	ConditionFairDay: {}, ConditionFairNight: {},
	ConditionPartlyCloudyDay: {}, ConditionPartlyCloudyNight: {},
	ConditionCloudy: {}, ConditionFog: {},
	ConditionLightRain: {}, ConditionRain: {}, ConditionHeavyRain: {},
	ConditionRainShowersDay: {}, ConditionRainShowersNight: {},
	ConditionLightSnow: {}, ConditionSnow: {}, ConditionHeavySnow: {},
	ConditionSnowShowersDay: {}, ConditionSnowShowersNight: {},
	ConditionSleet: {}, ConditionThunder: {},
	ConditionRainAndThunder: {}, ConditionSnowAndThunder: {},
	ConditionUnknown: {},
}

// IsKnown reports whether the condition belongs to the unified taxonomy.
func (c Condition) IsKnown() bool {
	_, ok := knownConditions[c]
	return ok
}

// Datum is one normalized forecast sample.
type Datum struct {
	// Time is the sample instant, always UTC.
	Time time.Time `json:"time"`

	// Temperature in °C.
	Temperature float64 `json:"temperature"`

	// Precipitation amount in mm over the block.
	Precipitation float64 `json:"precipitation"`

	// PrecipitationProb is the precipitation probability (0-100), when the
	// provider reports one.
	PrecipitationProb *float64 `json:"precipitation_probability,omitempty"`

	// WindSpeed in m/s.
	WindSpeed float64 `json:"wind_speed"`

	// WindDirection in degrees (0-360, 0=N).
	WindDirection float64 `json:"wind_direction"`

	// Code is the unified weather condition.
	Code Condition `json:"code"`

	// ThunderProb is the thunder probability (0-100), when reported.
	ThunderProb *float64 `json:"thunder_probability,omitempty"`

	// BlockDuration is the time span this sample represents (1h near term,
	// coarser further out).
	BlockDuration time.Duration `json:"block_duration"`
}

// Window is a forecast request window. Both instants are UTC and cache keys
// use the exact boundaries, so callers must align windows before querying
// or slightly different windows become distinct cache entries.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow builds a window with both instants converted to UTC.
func NewWindow(start, end time.Time) Window {
	return Window{Start: start.UTC(), End: end.UTC()}
}

// Validate checks the window ordering.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() || w.End.Before(w.Start) {
		return ErrInvalidWindow
	}
	return nil
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// HoursAhead returns how many whole hours the window end lies past now,
// rounded up. Providers compare this against their maximum horizon.
func (w Window) HoursAhead(now time.Time) int {
	d := w.End.Sub(now)
	if d <= 0 {
		return 0
	}
	h := int(d / time.Hour)
	if d%time.Hour != 0 {
		h++
	}
	return h
}

// Contains reports whether the instant falls inside the window, inclusive
// on both ends.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

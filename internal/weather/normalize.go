package weather

import (
	"math"
	"sort"
	"time"
)

// dayStartHour and dayEndHour bound the local-time "day" window used to pick
// day/night condition variants: local hour in [6, 22) is day.
const (
	dayStartHour = 6
	dayEndHour   = 22
)

// IsDaytime reports whether the instant is local daytime at the given
// longitude. Local time is approximated as UTC + lon/15 hours, which is
// within ±30 minutes of civil time and plenty for a 16-hour day window.
func IsDaytime(t time.Time, lon float64) bool {
	offset := time.Duration(math.Round(lon/15.0)) * time.Hour
	local := t.UTC().Add(offset)
	return local.Hour() >= dayStartHour && local.Hour() < dayEndHour
}

// DayVariant resolves a base condition to its day or night variant for the
// given instant and longitude. Conditions without variants pass through.
func DayVariant(base Condition, t time.Time, lon float64) Condition {
	variants, ok := dayNightVariants[base]
	if !ok {
		return base
	}
	if IsDaytime(t, lon) {
		return variants.day
	}
	return variants.night
}

type variantPair struct {
	day   Condition
	night Condition
}

// dayNightVariants maps variant-free base names to their day/night forms.
// Keys already carrying a suffix map to themselves so adapters can call
// DayVariant unconditionally.
var dayNightVariants = map[Condition]variantPair{
	"clearsky":     {ConditionClearSkyDay, ConditionClearSkyNight},
	"fair":         {ConditionFairDay, ConditionFairNight},
	"partlycloudy": {ConditionPartlyCloudyDay, ConditionPartlyCloudyNight},
	"rainshowers":  {ConditionRainShowersDay, ConditionRainShowersNight},
	"snowshowers":  {ConditionSnowShowersDay, ConditionSnowShowersNight},
}

// NormalizeSamples is the single exit path for adapter output: samples are
// sorted ascending by instant, deduplicated by instant (first wins), and
// clipped to the requested window. The result satisfies the strictly
// increasing, non-overlapping invariant every adapter must uphold.
func NormalizeSamples(samples []Datum, window Window) []Datum {
	if len(samples) == 0 {
		return nil
	}

	sorted := make([]Datum, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	out := make([]Datum, 0, len(sorted))
	var last time.Time
	for _, s := range sorted {
		s.Time = s.Time.UTC()
		if !window.Contains(s.Time) {
			continue
		}
		if len(out) > 0 && !s.Time.After(last) {
			continue
		}
		out = append(out, s)
		last = s.Time
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

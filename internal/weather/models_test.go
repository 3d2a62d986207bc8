package weather_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fairwaycast/fairwaycast/internal/weather"
)

func TestWindowValidate(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	assert.NoError(t, weather.NewWindow(now, now.Add(2*time.Hour)).Validate())
	assert.NoError(t, weather.NewWindow(now, now).Validate())
	assert.ErrorIs(t, weather.NewWindow(now, now.Add(-time.Minute)).Validate(), weather.ErrInvalidWindow)
	assert.ErrorIs(t, weather.Window{}.Validate(), weather.ErrInvalidWindow)
}

func TestNewWindowConvertsToUTC(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	start := time.Date(2024, 1, 15, 13, 0, 0, 0, cet)

	w := weather.NewWindow(start, start.Add(time.Hour))

	assert.Equal(t, time.UTC, w.Start.Location())
	assert.Equal(t, 12, w.Start.Hour())
}

func TestWindowHoursAhead(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  time.Time
		want int
	}{
		{"two hours out", now.Add(2 * time.Hour), 2},
		{"partial hour rounds up", now.Add(90 * time.Minute), 2},
		{"in the past", now.Add(-time.Hour), 0},
		{"nine days", now.Add(216 * time.Hour), 216},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := weather.NewWindow(now, tt.end)
			assert.Equal(t, tt.want, w.HoursAhead(now))
		})
	}
}

func TestConditionIsKnown(t *testing.T) {
	assert.True(t, weather.ConditionClearSkyDay.IsKnown())
	assert.True(t, weather.ConditionRainAndThunder.IsKnown())
	assert.True(t, weather.ConditionUnknown.IsKnown())
	assert.False(t, weather.Condition("drizzle_maybe").IsKnown())
	assert.False(t, weather.Condition("clearsky").IsKnown()) // base form needs a variant
}

// Package geo provides coordinate types and great-circle geometry used by
// the weather caches and provider adapters.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// Geometry errors.
var (
	ErrInvalidLatitude  = errors.New("latitude out of range [-90, 90]")
	ErrInvalidLongitude = errors.New("longitude out of range [-180, 180]")
)

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// Coordinate is a WGS 84 geographic point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that the coordinate is within WGS 84 bounds.
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return ErrInvalidLatitude
	}
	if c.Lon < -180 || c.Lon > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

// Round4 returns the coordinate rounded to 4 decimal places (~11 m).
// Cache keys use the rounded form to bound cardinality.
func (c Coordinate) Round4() Coordinate {
	return Coordinate{
		Lat: round4(c.Lat),
		Lon: round4(c.Lon),
	}
}

// Key returns the rounded coordinate as a stable cache-key fragment.
func (c Coordinate) Key() string {
	r := c.Round4()
	return fmt.Sprintf("%.4f,%.4f", r.Lat, r.Lon)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Distance calculates the great-circle distance between two coordinates in
// kilometers using the haversine formula. It is symmetric and returns zero
// (modulo floating error) for identical points.
func Distance(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// BoundingBox is a geographic bounding box used for cheap region checks
// before any network call.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains reports whether the coordinate lies within the box.
func (b BoundingBox) Contains(c Coordinate) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat &&
		c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

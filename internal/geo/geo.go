// Package geo provides great-circle distance and bearing calculations used by
// geofence validation, presence ranking and panic dispatch.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the canonical spherical Earth radius. Every distance
// in this codebase is derived from this single constant; do not introduce a
// kilometre variant at call sites.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is a usable coordinate.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func validateCoordinates(lat1, lng1, lat2, lng2 float64) error {
	for _, p := range []Point{{lat1, lng1}, {lat2, lng2}} {
		if !p.Valid() {
			return fmt.Errorf("invalid coordinate: lat=%v lng=%v", p.Lat, p.Lng)
		}
	}
	return nil
}

// DistanceMeters computes the Haversine great-circle distance between two
// coordinates. Invalid (NaN or out-of-range) coordinates return an error
// rather than silently yielding zero.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) (float64, error) {
	if err := validateCoordinates(lat1, lng1, lat2, lng2); err != nil {
		return 0, err
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c, nil
}

// Distance is a convenience wrapper over DistanceMeters for two Points.
func Distance(a, b Point) (float64, error) {
	return DistanceMeters(a.Lat, a.Lng, b.Lat, b.Lng)
}

// BearingDegrees computes the initial bearing from point a to point b in
// degrees from true north, normalized to [0, 360).
func BearingDegrees(a, b Point) (float64, error) {
	if err := validateCoordinates(a.Lat, a.Lng, b.Lat, b.Lng); err != nil {
		return 0, err
	}

	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dLambda := (b.Lng - a.Lng) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	theta := math.Atan2(y, x) * 180 / math.Pi

	return math.Mod(theta+360, 360), nil
}

// Package geo computes great-circle distances between WGS 84 coordinates.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for all distance math.
// Results from other components of the system depend on this exact value.
const EarthRadiusMeters = 6371000.0

// Point is a (latitude, longitude) pair in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Distance returns the haversine great-circle distance in meters between
// p and q:
//
//	2 * R * asin( sqrt( sin2(dLat/2) + cos(latP)*cos(latQ)*sin2(dLon/2) ) )
func Distance(p, q Point) float64 {
	latP := toRadians(p.Lat)
	latQ := toRadians(q.Lat)
	dLat := toRadians(q.Lat - p.Lat)
	dLon := toRadians(q.Lon - p.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(latP)*math.Cos(latQ)*sinLon*sinLon

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(a))
}

// Package geo provides great-circle distance and zone containment helpers.
package geo

import "math"

// EarthRadiusMeters is the mean radius of the spherical earth approximation.
const EarthRadiusMeters = 6371000

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Circle is a circular region around Center.
type Circle struct {
	Center       Point
	RadiusMeters float64
}

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// IsWithinZone reports whether p lies inside c. The boundary counts as inside.
func IsWithinZone(p Point, c Circle) bool {
	return DistanceMeters(p, c.Center) <= c.RadiusMeters
}

// Valid reports whether p is a finite, in-range coordinate.
func Valid(p Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

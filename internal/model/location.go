package model

import (
	"time"

	"github.com/sells-group/safewatch/pkg/geo"
)

// LocationSample is one fix reported by the device location provider.
type LocationSample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Speed          *float64  `json:"speed,omitempty"`
	AccuracyMeters *float64  `json:"accuracy,omitempty"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// Point returns the sample's coordinate.
func (s LocationSample) Point() geo.Point {
	return geo.Point{Lat: s.Latitude, Lng: s.Longitude}
}

// SafeZone is a backend-owned circular geofence.
type SafeZone struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Center         geo.Point `json:"center"`
	RadiusMeters   float64   `json:"radiusMeters"`
	AlertThreshold float64   `json:"alertThreshold"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Circle returns the zone's region for containment tests.
func (z SafeZone) Circle() geo.Circle {
	return geo.Circle{Center: z.Center, RadiusMeters: z.RadiusMeters}
}

// SafetyStatus is the derived containment state for one location.
type SafetyStatus struct {
	WithinAnyZone bool       `json:"withinAnyZone"`
	ActiveZones   []SafeZone `json:"activeZones"`
	EvaluatedAt   time.Time  `json:"evaluatedAt"`
	Location      geo.Point  `json:"location"`
	// Source is "local" or "server".
	Source string `json:"source,omitempty"`
}

// ZoneIDs returns the ids of the active zones in order.
func (s SafetyStatus) ZoneIDs() []string {
	ids := make([]string, 0, len(s.ActiveZones))
	for _, z := range s.ActiveZones {
		ids = append(ids, z.ID)
	}
	return ids
}

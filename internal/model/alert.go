package model

import (
	"time"

	"github.com/sells-group/safewatch/pkg/geo"
)

// PanicAlert is an incident or panic alert raised by a device or the backend.
type PanicAlert struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
	Severity     string    `json:"severity,omitempty"`
	Type         string    `json:"type,omitempty"`
	Description  string    `json:"description,omitempty"`
}

// Point returns the alert's coordinate.
func (a PanicAlert) Point() geo.Point {
	return geo.Point{Lat: a.Lat, Lng: a.Lng}
}

// AreaRisk is the risk oracle's score for an area.
type AreaRisk struct {
	RiskScore       float64  `json:"risk_score"`
	RiskLevel       string   `json:"risk_level"`
	Recommendations []string `json:"recommendations,omitempty"`
}

package api

import (
	"time"

	"github.com/sells-group/safewatch/internal/model"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
}

// PanicRequest is the body of POST /panic.
type PanicRequest struct {
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    string    `json:"severity,omitempty"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
}

// LocationAnomaly is the anomaly verdict the backend attaches to an upload.
type LocationAnomaly struct {
	IsAnomaly  bool    `json:"is_anomaly"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// LocationResult is the response of POST /location.
type LocationResult struct {
	Saved     bool             `json:"saved"`
	Anomaly   *LocationAnomaly `json:"anomaly,omitempty"`
	Geofences []string         `json:"geofences,omitempty"`
}

// LocationPayload is the body of POST /location.
type LocationPayload struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// ShareLocationRequest is the body of POST /user/share-location.
type ShareLocationRequest struct {
	Lat      float64                  `json:"lat"`
	Lng      float64                  `json:"lng"`
	Message  string                   `json:"message,omitempty"`
	Contacts []model.EmergencyContact `json:"contacts,omitempty"`
}

// EmergencyAlertRequest is the body of POST /user/emergency-alert.
type EmergencyAlertRequest struct {
	Type     string                   `json:"type"`
	Message  string                   `json:"message"`
	Lat      float64                  `json:"lat"`
	Lng      float64                  `json:"lng"`
	Contacts []model.EmergencyContact `json:"contacts"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type safeZonesResponse struct {
	SafeZones []model.SafeZone `json:"safeZones"`
}

type checkRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type testContactRequest struct {
	ContactID string `json:"contactId"`
}

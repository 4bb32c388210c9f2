package model

// User is the authenticated account.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// SessionCredentials is the live access/refresh token pair.
type SessionCredentials struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user,omitempty"`
}

// NotificationSettings controls which local notifications are shown.
type NotificationSettings struct {
	Enabled         bool `json:"enabled"`
	PanicAlerts     bool `json:"panicAlerts"`
	ZoneTransitions bool `json:"zoneTransitions"`
	IncidentAlerts  bool `json:"incidentAlerts"`
	RiskWarnings    bool `json:"riskWarnings"`
}

// DefaultNotificationSettings enables every category.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:         true,
		PanicAlerts:     true,
		ZoneTransitions: true,
		IncidentAlerts:  true,
		RiskWarnings:    true,
	}
}

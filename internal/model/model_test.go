package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveContacts(t *testing.T) {
	contacts := []EmergencyContact{
		{ID: "1", Name: "Asha", IsActive: true},
		{ID: "2", Name: "Ravi", IsActive: false},
		{ID: "3", Name: "Meera", IsActive: true},
	}

	active := ActiveContacts(contacts)
	require.Len(t, active, 2)
	assert.Equal(t, "1", active[0].ID)
	assert.Equal(t, "3", active[1].ID)
	assert.Empty(t, ActiveContacts(nil))
}

func TestEmergencyContact_IsLocal(t *testing.T) {
	assert.True(t, EmergencyContact{ID: LocalIDPrefix + "abc"}.IsLocal())
	assert.False(t, EmergencyContact{ID: "64f1c2"}.IsLocal())
}

func TestPendingContactChange_CanRetry(t *testing.T) {
	p := &PendingContactChange{RetryCount: 2, MaxRetries: 3}
	assert.True(t, p.CanRetry())
	p.RetryCount = 3
	assert.False(t, p.CanRetry())
	p.MaxRetries = 0
	assert.True(t, p.CanRetry(), "zero max retries means unlimited")
}

func TestSafeZone_DecodesBackendShape(t *testing.T) {
	raw := `{"id":"z1","name":"Old Fort","center":{"lat":28.6139,"lng":77.209},"radiusMeters":500,"alertThreshold":0.5,"isActive":true,"createdAt":"2024-09-19T20:00:00Z"}`

	var z SafeZone
	require.NoError(t, json.Unmarshal([]byte(raw), &z))
	assert.Equal(t, "z1", z.ID)
	assert.InDelta(t, 28.6139, z.Center.Lat, 1e-9)
	assert.InDelta(t, 500, z.Circle().RadiusMeters, 1e-9)
	assert.True(t, z.IsActive)
}

func TestSafetyStatus_ZoneIDs(t *testing.T) {
	s := SafetyStatus{ActiveZones: []SafeZone{{ID: "a"}, {ID: "b"}}}
	assert.Equal(t, []string{"a", "b"}, s.ZoneIDs())
	assert.Empty(t, SafetyStatus{}.ZoneIDs())
}

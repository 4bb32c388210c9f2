package geofence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/geo"
)

var (
	zoneA = model.SafeZone{ID: "a", Name: "Connaught Place", Center: geo.Point{Lat: 28.6139, Lng: 77.2090}, RadiusMeters: 500, IsActive: true}
	zoneB = model.SafeZone{ID: "b", Name: "Janpath", Center: geo.Point{Lat: 28.6189, Lng: 77.2090}, RadiusMeters: 500, IsActive: true}
)

func TestMachine_Transitions(t *testing.T) {
	t.Parallel()
	var m Machine
	assert.Equal(t, Outside, m.State())

	tests := []struct {
		name    string
		current []model.SafeZone
		want    EventKind
		state   State
	}{
		{"still outside", nil, EventNone, Outside},
		{"enter a", []model.SafeZone{zoneA}, EventEnter, Inside},
		{"a and b", []model.SafeZone{zoneA, zoneB}, EventNone, Inside},
		{"only b", []model.SafeZone{zoneB}, EventNone, Inside},
		{"leave", nil, EventExit, Outside},
		{"still outside again", nil, EventNone, Outside},
		{"enter b", []model.SafeZone{zoneB}, EventEnter, Inside},
	}
	for _, tt := range tests {
		tr := m.Step(tt.current)
		assert.Equal(t, tt.want, tr.Kind, tt.name)
		assert.Equal(t, tt.state, m.State(), tt.name)
	}
}

func TestMachine_EnterCarriesZones(t *testing.T) {
	t.Parallel()
	var m Machine
	tr := m.Step([]model.SafeZone{zoneA, zoneB})
	require.Equal(t, EventEnter, tr.Kind)
	assert.Len(t, tr.Zones, 2)
	assert.Len(t, m.Active(), 2)

	tr = m.Step(nil)
	assert.Empty(t, tr.Zones)
	assert.Empty(t, m.Active())
	assert.Equal(t, "outside", m.State().String())
}

func TestContaining(t *testing.T) {
	t.Parallel()
	inactive := zoneA
	inactive.ID = "inactive"
	inactive.IsActive = false
	zeroRadius := zoneA
	zeroRadius.ID = "zero"
	zeroRadius.RadiusMeters = 0

	got := Containing([]model.SafeZone{zoneA, inactive, zeroRadius, zoneB}, geo.Point{Lat: 28.6139, Lng: 77.2090})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	between := geo.Point{Lat: 28.6164, Lng: 77.2090}
	assert.Len(t, Containing([]model.SafeZone{zoneA, zoneB}, between), 2)
}

func TestUsable(t *testing.T) {
	t.Parallel()
	bad := zoneA
	bad.RadiusMeters = -1
	badCenter := zoneA
	badCenter.Center = geo.Point{Lat: 200}
	assert.Len(t, usable([]model.SafeZone{zoneA, bad, badCenter}), 1)
}

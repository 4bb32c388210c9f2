// Package geofence tracks containment in the cached safe zones and emits
// edge-triggered enter and exit events.
package geofence

import (
	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/geo"
)

// State is the device's containment state.
type State int

const (
	// Outside means the last sample was in no safe zone.
	Outside State = iota
	// Inside means the last sample was in at least one safe zone.
	Inside
)

func (s State) String() string {
	if s == Inside {
		return "inside"
	}
	return "outside"
}

// EventKind is the edge a transition crossed.
type EventKind int

const (
	EventNone  EventKind = iota // no state change
	EventEnter                  // Outside to Inside
	EventExit                   // Inside to Outside
)

// Transition is the result of one machine step.
type Transition struct {
	Kind  EventKind
	From  State
	To    State
	Zones []model.SafeZone
}

// Machine is the Outside/Inside state machine. Moving between zones while
// inside at least one produces no event.
type Machine struct {
	state  State
	active []model.SafeZone
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Active returns the zones containing the last evaluated point.
func (m *Machine) Active() []model.SafeZone {
	return append([]model.SafeZone(nil), m.active...)
}

// Step advances the machine with the zones containing the current point.
func (m *Machine) Step(current []model.SafeZone) Transition {
	from := m.state
	to := Outside
	if len(current) > 0 {
		to = Inside
	}
	m.state = to
	m.active = append(m.active[:0], current...)

	tr := Transition{From: from, To: to}
	switch {
	case from == Outside && to == Inside:
		tr.Kind = EventEnter
		tr.Zones = append([]model.SafeZone(nil), current...)
	case from == Inside && to == Outside:
		tr.Kind = EventExit
	}
	return tr
}

// Containing returns the active zones that contain p, in cache order.
func Containing(zones []model.SafeZone, p geo.Point) []model.SafeZone {
	var out []model.SafeZone
	for _, z := range zones {
		if !z.IsActive || z.RadiusMeters <= 0 {
			continue
		}
		if geo.IsWithinZone(p, z.Circle()) {
			out = append(out, z)
		}
	}
	return out
}

// usable drops zones that can never contain a point.
func usable(zones []model.SafeZone) []model.SafeZone {
	out := make([]model.SafeZone, 0, len(zones))
	for _, z := range zones {
		if z.RadiusMeters > 0 && geo.Valid(z.Center) {
			out = append(out, z)
		}
	}
	return out
}

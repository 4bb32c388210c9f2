package monitor

import (
	"context"

	"github.com/sells-group/safewatch/internal/contacts"
	"github.com/sells-group/safewatch/internal/dispatch"
	"github.com/sells-group/safewatch/internal/geofence"
	"github.com/sells-group/safewatch/internal/incidents"
	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/internal/notify"
	"github.com/sells-group/safewatch/internal/status"
	"github.com/sells-group/safewatch/pkg/api"
	"github.com/sells-group/safewatch/pkg/geo"
)

// Safety is the current safety answer.
func (s *Service) Safety() model.SafetyStatus { return s.evaluator.Status() }

// Zones returns the zone cache.
func (s *Service) Zones() []model.SafeZone { return s.evaluator.Zones() }

// Incidents returns the incident window.
func (s *Service) Incidents() []incidents.Entry { return s.window.Snapshot() }

// IncidentCounts returns the incident counters.
func (s *Service) IncidentCounts() incidents.Counts { return s.window.Counts() }

// Notifications returns recent notifications, oldest first.
func (s *Service) Notifications() []notify.Notification { return s.recorder.Recent() }

// Panic raises a panic alert.
func (s *Service) Panic(ctx context.Context, req api.PanicRequest) (*model.PanicAlert, error) {
	return s.dispatcher.SendPanicAlert(ctx, req)
}

// Health reports component state.
func (s *Service) Health() status.Health {
	h := status.Health{
		Authenticated: s.session.Authenticated(),
		Backend:       s.breaker.State().String(),
		Zones:         len(s.evaluator.Zones()),
		Tracking:      s.feed.Active(),
	}
	if s.channel != nil {
		h.Realtime = s.channel.Connected()
	}
	return h
}

// Evaluator exposes the geofence evaluator.
func (s *Service) Evaluator() *geofence.Evaluator { return s.evaluator }

// Dispatcher exposes the alert dispatcher.
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Contacts exposes the contact store.
func (s *Service) Contacts() *contacts.Store { return s.contacts }

func distance(here model.LocationSample, a model.PanicAlert) float64 {
	return geo.DistanceMeters(here.Point(), a.Point())
}

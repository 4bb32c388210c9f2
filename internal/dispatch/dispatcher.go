// Package dispatch sends panic alerts, emergency alerts and location shares.
// Every action is attempted once and always produces a success or failure
// notification.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/safewatch/internal/channel"
	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/internal/notify"
	"github.com/sells-group/safewatch/pkg/api"
	"github.com/sells-group/safewatch/pkg/geo"
)

// Backend is the alerting subset of the API.
type Backend interface {
	Panic(ctx context.Context, token string, req api.PanicRequest) (*model.PanicAlert, error)
	EmergencyAlert(ctx context.Context, token string, req api.EmergencyAlertRequest) error
	ShareLocation(ctx context.Context, token string, req api.ShareLocationRequest) error
	TestContact(ctx context.Context, token string, contactID string) error
}

// Caller runs a backend call with the session token.
type Caller interface {
	Call(ctx context.Context, fn func(ctx context.Context, token string) error) error
}

// ContactSource lists the active emergency contacts.
type ContactSource interface {
	Active(ctx context.Context) ([]model.EmergencyContact, error)
}

// Publisher sends outbound realtime events.
type Publisher interface {
	Publish(kind channel.EventKind, data any) error
}

// Kind selects the emergency message template.
type Kind string

const (
	KindGeneral    Kind = "general"    // unspecified emergency
	KindMedical    Kind = "medical"    // needs medical assistance
	KindSafety     Kind = "safety"     // feels unsafe
	KindLost       Kind = "lost"       // lost and needs directions
	KindHarassment Kind = "harassment" // being harassed
)

var templates = map[Kind]string{
	KindGeneral:    "EMERGENCY: I need help. My location: %s",
	KindMedical:    "MEDICAL EMERGENCY: I need medical assistance. My location: %s",
	KindSafety:     "SAFETY ALERT: I feel unsafe and need help. My location: %s",
	KindLost:       "I am lost and need help finding my way. My location: %s",
	KindHarassment: "HARASSMENT: I am being harassed and need help. My location: %s",
}

// ParseKind maps a name to a Kind. Unknown names are rejected.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := templates[k]; !ok {
		return "", api.ValidationError("dispatch: emergency alert", fmt.Sprintf("unknown alert kind %q", s))
	}
	return k, nil
}

// Message renders the emergency text for kind at p.
func Message(kind Kind, p geo.Point) string {
	tmpl, ok := templates[kind]
	if !ok {
		tmpl = templates[KindGeneral]
	}
	return fmt.Sprintf(tmpl, mapsLink(p))
}

func mapsLink(p geo.Point) string {
	return fmt.Sprintf("https://maps.google.com/?q=%.6f,%.6f", p.Lat, p.Lng)
}

// Dispatcher sends alerts on behalf of the user.
type Dispatcher struct {
	session  Caller
	backend  Backend
	contacts ContactSource
	notifier notify.Notifier
	events   Publisher
	now      func() time.Time
}

// New creates a dispatcher. events may be nil when no realtime channel runs.
func New(session Caller, backend Backend, contacts ContactSource, notifier notify.Notifier, events Publisher) *Dispatcher {
	return &Dispatcher{
		session:  session,
		backend:  backend,
		contacts: contacts,
		notifier: notifier,
		events:   events,
		now:      time.Now,
	}
}

// SendPanicAlert raises a panic alert. A zero timestamp means now. Failures
// are returned as *Error and are not retried.
func (d *Dispatcher) SendPanicAlert(ctx context.Context, req api.PanicRequest) (*model.PanicAlert, error) {
	const op = "panic alert"
	if req.Timestamp.IsZero() {
		req.Timestamp = d.now().UTC()
	}
	if !geo.Valid(geo.Point{Lat: req.Lat, Lng: req.Lng}) {
		err := failure(op, api.ValidationError("dispatch: panic", "invalid coordinate"))
		d.notify(ctx, failed(op, err))
		return nil, err
	}

	var alert *model.PanicAlert
	err := d.session.Call(ctx, func(ctx context.Context, token string) error {
		var err error
		alert, err = d.backend.Panic(ctx, token, req)
		return err
	})
	if err != nil {
		derr := failure(op, err)
		zap.L().Error("panic alert failed", zap.String("component", "dispatch"), zap.Error(err))
		d.notify(ctx, failed(op, derr))
		return nil, derr
	}

	zap.L().Info("panic alert sent", zap.String("component", "dispatch"), zap.String("alert_id", alert.ID))
	d.notify(ctx, notify.Notification{
		Category: notify.CategoryAction,
		Priority: notify.PriorityHigh,
		Title:    "Panic alert sent",
		Body:     "Help has been notified of your location.",
		Data:     map[string]any{"alert_id": alert.ID, "lat": req.Lat, "lng": req.Lng},
	})
	if d.events != nil {
		if err := d.events.Publish(channel.EventPanicTrigger, alert); err != nil {
			zap.L().Debug("panic trigger not published", zap.String("component", "dispatch"), zap.Error(err))
		}
	}
	return alert, nil
}

// SendEmergencyAlert sends one templated alert to every active contact. It
// fails fast with ErrNoContacts when there are none.
func (d *Dispatcher) SendEmergencyAlert(ctx context.Context, kind Kind, at geo.Point) error {
	const op = "emergency alert"
	active, err := d.contacts.Active(ctx)
	if err != nil {
		d.notify(ctx, failed(op, err))
		return err
	}
	if len(active) == 0 {
		d.notify(ctx, failed(op, ErrNoContacts))
		return ErrNoContacts
	}

	req := api.EmergencyAlertRequest{
		Type:     string(kind),
		Message:  Message(kind, at),
		Lat:      at.Lat,
		Lng:      at.Lng,
		Contacts: active,
	}
	err = d.session.Call(ctx, func(ctx context.Context, token string) error {
		return d.backend.EmergencyAlert(ctx, token, req)
	})
	if err != nil {
		derr := failure(op, err)
		zap.L().Error("emergency alert failed", zap.String("component", "dispatch"), zap.Error(err))
		d.notify(ctx, failed(op, derr))
		return derr
	}

	d.notify(ctx, notify.Notification{
		Category: notify.CategoryAction,
		Priority: notify.PriorityHigh,
		Title:    "Emergency alert sent",
		Body:     fmt.Sprintf("%d contact(s) notified.", len(active)),
		Data:     map[string]any{"kind": string(kind), "contacts": len(active)},
	})
	return nil
}

// SendLocationToContacts shares the location with every active contact.
func (d *Dispatcher) SendLocationToContacts(ctx context.Context, at geo.Point, message string) error {
	const op = "share location"
	active, err := d.contacts.Active(ctx)
	if err != nil {
		d.notify(ctx, failed(op, err))
		return err
	}
	if message == "" {
		message = "Sharing my current location: " + mapsLink(at)
	}

	req := api.ShareLocationRequest{Lat: at.Lat, Lng: at.Lng, Message: message, Contacts: active}
	err = d.session.Call(ctx, func(ctx context.Context, token string) error {
		return d.backend.ShareLocation(ctx, token, req)
	})
	if err != nil {
		derr := failure(op, err)
		d.notify(ctx, notify.Notification{
			Category: notify.CategoryAction,
			Priority: notify.PriorityHigh,
			Title:    "Failed to share location",
			Body:     derr.Error(),
		})
		return derr
	}

	d.notify(ctx, notify.Notification{
		Category: notify.CategoryAction,
		Priority: notify.PriorityDefault,
		Title:    "Location shared",
		Body:     fmt.Sprintf("Your location was shared with %d contact(s).", len(active)),
	})
	return nil
}

// TestContact asks the backend to send a test message to one contact.
func (d *Dispatcher) TestContact(ctx context.Context, contactID string) error {
	const op = "test contact"
	var invalid string
	switch {
	case contactID == "":
		invalid = "contact id is required"
	case strings.HasPrefix(contactID, model.LocalIDPrefix):
		invalid = "contact has not been synced yet"
	}
	if invalid != "" {
		err := failure(op, api.ValidationError("dispatch: test contact", invalid))
		d.notify(ctx, failed(op, err))
		return err
	}
	err := d.session.Call(ctx, func(ctx context.Context, token string) error {
		return d.backend.TestContact(ctx, token, contactID)
	})
	if err != nil {
		derr := failure(op, err)
		d.notify(ctx, failed(op, derr))
		return derr
	}
	d.notify(ctx, notify.Notification{
		Category: notify.CategoryAction,
		Priority: notify.PriorityDefault,
		Title:    "Test message sent",
		Data:     map[string]any{"contact_id": contactID},
	})
	return nil
}

func failed(op string, err error) notify.Notification {
	return notify.Notification{
		Category: notify.CategoryAction,
		Priority: notify.PriorityHigh,
		Title:    strings.ToUpper(op[:1]) + op[1:] + " failed",
		Body:     err.Error(),
	}
}

func (d *Dispatcher) notify(ctx context.Context, n notify.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = d.now()
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		zap.L().Warn("notification failed", zap.String("component", "dispatch"), zap.String("title", n.Title), zap.Error(err))
	}
}

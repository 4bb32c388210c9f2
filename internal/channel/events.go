// Package channel is the realtime alert channel: a websocket connection
// authenticated with the session token that fans typed events out to
// registered listeners.
package channel

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/safewatch/internal/model"
)

// EventKind is the closed set of events carried on the channel.
type EventKind string

const (
	EventIncident          EventKind = "incident"           // reported incident nearby
	EventPanicAlert        EventKind = "panic_alert"        // another user's panic alert
	EventAlertAcknowledged EventKind = "alert_acknowledged" // responders acknowledged an alert

	// EventPanicTrigger is sent by the client after a panic alert was
	// accepted by the backend.
	EventPanicTrigger EventKind = "panic_trigger"
)

// Inbound reports whether the server pushes events of this kind.
func (k EventKind) Inbound() bool {
	switch k {
	case EventIncident, EventPanicAlert, EventAlertAcknowledged:
		return true
	}
	return false
}

// Event is one inbound message.
type Event struct {
	Kind       EventKind
	Data       json.RawMessage
	ReceivedAt time.Time
}

// Alert decodes the payload. Every inbound kind carries a panic alert.
func (e Event) Alert() (model.PanicAlert, error) {
	var a model.PanicAlert
	if err := json.Unmarshal(e.Data, &a); err != nil {
		return a, eris.Wrapf(err, "channel: decode %s payload", e.Kind)
	}
	return a, nil
}

type frame struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type authFrame struct {
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
}

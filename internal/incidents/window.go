// Package incidents keeps the window of recent alerts around the device.
package incidents

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/safewatch/internal/channel"
	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/internal/resilience"
	"github.com/sells-group/safewatch/pkg/api"
	"github.com/sells-group/safewatch/pkg/geo"
)

// Backend fetches alerts near a point.
type Backend interface {
	PanicAlertsNear(ctx context.Context, token string, p geo.Point, radiusMeters float64) ([]model.PanicAlert, error)
}

// Caller runs a backend call with the session token.
type Caller interface {
	Call(ctx context.Context, fn func(ctx context.Context, token string) error) error
}

// Locator reports the last known device location.
type Locator interface {
	LastKnown() (model.LocationSample, bool)
}

// Source is the event channel the window listens on.
type Source interface {
	On(kind channel.EventKind, fn channel.Handler) channel.ListenerID
	Off(kind channel.EventKind, ids ...channel.ListenerID)
	OnConnect(fn func(ctx context.Context))
}

// Listener is told about every alert that enters or changes in the window.
type Listener func(kind channel.EventKind, alert model.PanicAlert)

// Entry is one alert in the window.
type Entry struct {
	Kind  channel.EventKind `json:"kind"`
	Alert model.PanicAlert  `json:"alert"`
}

// Counts summarizes the window and the traffic seen.
type Counts struct {
	Visible        int `json:"visible"`
	Unacknowledged int `json:"unacknowledged"`
	Received       int `json:"received"`
	OutOfRange     int `json:"out_of_range"`
}

// Option configures a Window.
type Option func(*Window)

// WithRadius sets the distance filter in meters.
func WithRadius(m float64) Option {
	return func(w *Window) {
		if m > 0 {
			w.radius = m
		}
	}
}

// WithMaxAlerts caps the window size.
func WithMaxAlerts(n int) Option {
	return func(w *Window) {
		if n > 0 {
			w.max = n
		}
	}
}

// WithRetry sets the retry policy for resync fetches.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(w *Window) { w.retry = cfg }
}

// WithBreaker guards resync fetches with a shared circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(w *Window) { w.breaker = cb }
}

// Window holds the most recent alerts within a radius of the last known
// location, newest first. Alerts pushed over the channel are merged in;
// Resync replaces the panic alerts with the backend's view.
type Window struct {
	session Caller
	backend Backend
	locator Locator
	radius  float64
	max     int
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker

	mu        sync.Mutex
	entries   []Entry
	counts    Counts
	listeners []Listener
	attached  []attachment
}

type attachment struct {
	src Source
	ids map[channel.EventKind]channel.ListenerID
}

// New creates an empty window.
func New(session Caller, backend Backend, locator Locator, opts ...Option) *Window {
	w := &Window{
		session: session,
		backend: backend,
		locator: locator,
		radius:  5000,
		max:     50,
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.retry.ShouldRetry = api.Retryable
	w.retry.OnRetry = resilience.RetryLogger("incidents", "alerts near")
	return w
}

// OnAlert registers a listener. Listeners run outside the window lock.
func (w *Window) OnAlert(fn Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Attach subscribes the window to src and resyncs on every connect.
func (w *Window) Attach(src Source) {
	ids := map[channel.EventKind]channel.ListenerID{}
	for _, kind := range []channel.EventKind{channel.EventIncident, channel.EventPanicAlert, channel.EventAlertAcknowledged} {
		ids[kind] = src.On(kind, w.handle)
	}
	src.OnConnect(func(ctx context.Context) {
		if err := w.Resync(ctx); err != nil {
			zap.L().Warn("incident resync failed", zap.String("component", "incidents"), zap.Error(err))
		}
	})

	w.mu.Lock()
	w.attached = append(w.attached, attachment{src: src, ids: ids})
	w.mu.Unlock()
}

// Detach removes the window's channel listeners.
func (w *Window) Detach() {
	w.mu.Lock()
	attached := w.attached
	w.attached = nil
	w.mu.Unlock()

	for _, a := range attached {
		for kind, id := range a.ids {
			a.src.Off(kind, id)
		}
	}
}

// Relocate drops entries that are outside the radius of the last known
// location. Without a location the window is left alone.
func (w *Window) Relocate() {
	here, ok := w.locator.LastKnown()
	if !ok {
		return
	}
	w.mu.Lock()
	w.prune(here.Point())
	w.mu.Unlock()
}

// Resync fetches alerts near the last known location. Without a location
// there is nothing to ask for and the window is left alone. Entries the
// device has moved away from are dropped even when the fetch fails.
func (w *Window) Resync(ctx context.Context) error {
	here, ok := w.locator.LastKnown()
	if !ok {
		return nil
	}
	w.mu.Lock()
	w.prune(here.Point())
	w.mu.Unlock()

	alerts, err := resilience.Guarded(ctx, w.retry, w.breaker, func(ctx context.Context) ([]model.PanicAlert, error) {
		var out []model.PanicAlert
		err := w.session.Call(ctx, func(ctx context.Context, token string) error {
			var err error
			out, err = w.backend.PanicAlertsNear(ctx, token, here.Point(), w.radius)
			return err
		})
		return out, err
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	known := make(map[string]bool, len(w.entries))
	for _, e := range w.entries {
		known[e.Alert.ID] = true
	}
	kept := w.entries[:0:0]
	for _, e := range w.entries {
		if e.Kind == channel.EventIncident && w.inRange(here.Point(), e.Alert) {
			kept = append(kept, e)
		}
	}
	var fresh []model.PanicAlert
	for _, a := range alerts {
		if !w.inRange(here.Point(), a) {
			continue
		}
		kept = append(kept, Entry{Kind: channel.EventPanicAlert, Alert: a})
		if !known[a.ID] {
			fresh = append(fresh, a)
		}
	}
	w.entries = w.trim(kept)
	listeners := append([]Listener(nil), w.listeners...)
	w.mu.Unlock()

	zap.L().Debug("incident window resynced",
		zap.String("component", "incidents"),
		zap.Int("fetched", len(alerts)),
		zap.Int("new", len(fresh)),
	)
	for _, a := range fresh {
		for _, fn := range listeners {
			fn(channel.EventPanicAlert, a)
		}
	}
	return nil
}

// Snapshot returns the window, newest first.
func (w *Window) Snapshot() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Entry(nil), w.entries...)
}

// Counts returns the window counters.
func (w *Window) Counts() Counts {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.counts
	c.Visible = len(w.entries)
	c.Unacknowledged = 0
	for _, e := range w.entries {
		if !e.Alert.Acknowledged {
			c.Unacknowledged++
		}
	}
	return c
}

func (w *Window) handle(ev channel.Event) {
	alert, err := ev.Alert()
	if err != nil {
		zap.L().Debug("dropping undecodable alert", zap.String("component", "incidents"), zap.Error(err))
		return
	}

	here, located := w.locator.LastKnown()

	w.mu.Lock()
	w.counts.Received++
	if ev.Kind == channel.EventAlertAcknowledged {
		changed := w.acknowledge(alert.ID)
		listeners := append([]Listener(nil), w.listeners...)
		w.mu.Unlock()
		if changed {
			alert.Acknowledged = true
			for _, fn := range listeners {
				fn(ev.Kind, alert)
			}
		}
		return
	}

	if located {
		w.prune(here.Point())
		if !w.inRange(here.Point(), alert) {
			w.counts.OutOfRange++
			w.mu.Unlock()
			return
		}
	}

	w.upsert(Entry{Kind: ev.Kind, Alert: alert})
	listeners := append([]Listener(nil), w.listeners...)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(ev.Kind, alert)
	}
}

func (w *Window) inRange(here geo.Point, a model.PanicAlert) bool {
	return geo.DistanceMeters(here, a.Point()) <= w.radius
}

// prune drops entries farther than the radius from here. Callers hold mu.
func (w *Window) prune(here geo.Point) {
	kept := w.entries[:0]
	for _, e := range w.entries {
		if w.inRange(here, e.Alert) {
			kept = append(kept, e)
			continue
		}
		w.counts.OutOfRange++
	}
	w.entries = kept
}

// acknowledge marks id acknowledged. Callers hold mu.
func (w *Window) acknowledge(id string) bool {
	for i := range w.entries {
		if w.entries[i].Alert.ID == id && !w.entries[i].Alert.Acknowledged {
			w.entries[i].Alert.Acknowledged = true
			return true
		}
	}
	return false
}

// upsert replaces an entry with the same id or adds a new one. Callers hold mu.
func (w *Window) upsert(e Entry) {
	for i := range w.entries {
		if w.entries[i].Alert.ID == e.Alert.ID {
			w.entries[i] = e
			w.entries = w.trim(w.entries)
			return
		}
	}
	w.entries = w.trim(append(w.entries, e))
}

func (w *Window) trim(entries []Entry) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Alert.Timestamp.After(entries[j].Alert.Timestamp)
	})
	if len(entries) > w.max {
		entries = entries[:w.max]
	}
	return entries
}

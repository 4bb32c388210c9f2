package geofence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/internal/resilience"
	"github.com/sells-group/safewatch/pkg/api"
	"github.com/sells-group/safewatch/pkg/geo"
)

// ErrNoLocation is returned by CheckNow before any sample was evaluated.
var ErrNoLocation = eris.New("geofence: no known location")

// Backend is the subset of the API the evaluator uses.
type Backend interface {
	SafeZones(ctx context.Context, token string) ([]model.SafeZone, error)
	CheckSafety(ctx context.Context, token string, p geo.Point) (*model.SafetyStatus, error)
}

// Caller runs a backend call with the session token.
type Caller interface {
	Call(ctx context.Context, fn func(ctx context.Context, token string) error) error
}

// EnterFunc receives the zones entered on an Outside to Inside transition.
type EnterFunc func(zones []model.SafeZone, at model.LocationSample)

// ExitFunc is called on an Inside to Outside transition.
type ExitFunc func(at model.LocationSample)

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRetry sets the retry policy for zone fetches.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Evaluator) { e.retry = cfg }
}

// WithBreaker guards zone fetches with a shared circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Evaluator) { e.breaker = cb }
}

// WithCheckInterval sets the server safety-check cadence.
func WithCheckInterval(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.checkInterval = d
		}
	}
}

// WithRefreshSchedule sets the cron spec for zone refreshes. An empty spec
// disables periodic refresh.
func WithRefreshSchedule(spec string) Option {
	return func(e *Evaluator) { e.refreshSpec = spec }
}

// Evaluator owns the zone cache, the containment state machine and the
// last known location. Samples are evaluated one at a time in delivery order.
type Evaluator struct {
	session Caller
	backend Backend
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker

	checkInterval time.Duration
	refreshSpec   string

	zmu   sync.RWMutex
	zones []model.SafeZone

	// mu serializes evaluation and guards the fields below.
	mu        sync.Mutex
	machine   Machine
	lastKnown *model.LocationSample
	local     model.SafetyStatus
	onEnter   []EnterFunc
	onExit    []ExitFunc

	smu    sync.RWMutex
	server *model.SafetyStatus

	now func() time.Time
}

// NewEvaluator creates an evaluator with an empty zone cache.
func NewEvaluator(session Caller, backend Backend, opts ...Option) *Evaluator {
	e := &Evaluator{
		session:       session,
		backend:       backend,
		retry:         resilience.DefaultRetryConfig(),
		checkInterval: 30 * time.Second,
		refreshSpec:   "@every 10m",
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.retry.ShouldRetry = api.Retryable
	e.retry.OnRetry = resilience.RetryLogger("geofence", "safe zones")
	return e
}

// OnEnter registers an enter listener. Listeners run under the evaluation
// lock and must not call Evaluate.
func (e *Evaluator) OnEnter(fn EnterFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnter = append(e.onEnter, fn)
}

// OnExit registers an exit listener.
func (e *Evaluator) OnExit(fn ExitFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onExit = append(e.onExit, fn)
}

// Initialize loads the zone cache. A failure leaves the cache as it was.
func (e *Evaluator) Initialize(ctx context.Context) error {
	return e.RefreshZones(ctx)
}

// RefreshZones re-fetches the zone cache. Stale zones stay in use when the
// fetch fails.
func (e *Evaluator) RefreshZones(ctx context.Context) error {
	zones, err := resilience.Guarded(ctx, e.retry, e.breaker, func(ctx context.Context) ([]model.SafeZone, error) {
		var out []model.SafeZone
		err := e.session.Call(ctx, func(ctx context.Context, token string) error {
			var err error
			out, err = e.backend.SafeZones(ctx, token)
			return err
		})
		return out, err
	})
	if err != nil {
		zap.L().Warn("zone refresh failed, keeping cached zones",
			zap.String("component", "geofence"),
			zap.Int("cached", len(e.Zones())),
			zap.Error(err),
		)
		return err
	}
	e.SetZones(zones)
	return nil
}

// SetZones replaces the zone cache, dropping zones with a non-positive
// radius or an invalid center.
func (e *Evaluator) SetZones(zones []model.SafeZone) {
	kept := usable(zones)
	if dropped := len(zones) - len(kept); dropped > 0 {
		zap.L().Warn("dropped unusable zones", zap.String("component", "geofence"), zap.Int("dropped", dropped))
	}
	e.zmu.Lock()
	e.zones = kept
	e.zmu.Unlock()
	zap.L().Debug("zone cache updated", zap.String("component", "geofence"), zap.Int("zones", len(kept)))
}

// Zones returns a copy of the zone cache.
func (e *Evaluator) Zones() []model.SafeZone {
	e.zmu.RLock()
	defer e.zmu.RUnlock()
	return append([]model.SafeZone(nil), e.zones...)
}

// Evaluate processes one sample, records it as the last known location and
// fires enter/exit listeners on a state change. Invalid and out-of-order
// samples are ignored.
func (e *Evaluator) Evaluate(s model.LocationSample) model.SafetyStatus {
	if !geo.Valid(s.Point()) {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.local
	}

	current := Containing(e.Zones(), s.Point())

	e.mu.Lock()
	defer e.mu.Unlock()

	// Foreground and background streams share the evaluator; a sample older
	// than the last one evaluated is stale.
	if e.lastKnown != nil && s.CapturedAt.Before(e.lastKnown.CapturedAt) {
		return e.local
	}

	sample := s
	e.lastKnown = &sample
	tr := e.machine.Step(current)
	e.local = model.SafetyStatus{
		WithinAnyZone: len(current) > 0,
		ActiveZones:   current,
		EvaluatedAt:   e.now(),
		Location:      s.Point(),
		Source:        "local",
	}

	switch tr.Kind {
	case EventEnter:
		zap.L().Info("entered safe zone", zap.String("component", "geofence"), zap.Strings("zones", e.local.ZoneIDs()))
		for _, fn := range e.onEnter {
			fn(tr.Zones, s)
		}
	case EventExit:
		zap.L().Info("left all safe zones", zap.String("component", "geofence"))
		for _, fn := range e.onExit {
			fn(s)
		}
	}
	return e.local
}

// State returns the machine state.
func (e *Evaluator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.State()
}

// LastKnown returns the last evaluated sample.
func (e *Evaluator) LastKnown() (model.LocationSample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastKnown == nil {
		return model.LocationSample{}, false
	}
	return *e.lastKnown, true
}

// LocalStatus returns the status computed from the last sample.
func (e *Evaluator) LocalStatus() model.SafetyStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

// Status is the "am I safe" answer: a fresh server status wins over the
// local one.
func (e *Evaluator) Status() model.SafetyStatus {
	e.smu.RLock()
	server := e.server
	e.smu.RUnlock()

	if server != nil && e.now().Sub(server.EvaluatedAt) <= 2*e.checkInterval {
		return *server
	}
	return e.LocalStatus()
}

// CheckNow asks the backend to evaluate the last known location and stores
// the result.
func (e *Evaluator) CheckNow(ctx context.Context) (*model.SafetyStatus, error) {
	last, ok := e.LastKnown()
	if !ok {
		return nil, ErrNoLocation
	}

	var status *model.SafetyStatus
	err := e.session.Call(ctx, func(ctx context.Context, token string) error {
		var err error
		status, err = e.backend.CheckSafety(ctx, token, last.Point())
		return err
	})
	if err != nil {
		return nil, err
	}

	st := *status
	st.Source = "server"
	st.EvaluatedAt = e.now()
	if st.Location == (geo.Point{}) {
		st.Location = last.Point()
	}

	local := e.LocalStatus()
	if local.WithinAnyZone != st.WithinAnyZone {
		zap.L().Info("server safety status differs from local",
			zap.String("component", "geofence"),
			zap.Bool("server_within", st.WithinAnyZone),
			zap.Bool("local_within", local.WithinAnyZone),
		)
	}

	e.smu.Lock()
	e.server = &st
	e.smu.Unlock()
	return &st, nil
}

// Run performs the periodic safety check and the scheduled zone refresh
// until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "geofence"))

	var sched *cron.Cron
	if e.refreshSpec != "" {
		sched = cron.New()
		if _, err := sched.AddFunc(e.refreshSpec, func() {
			_ = e.RefreshZones(ctx)
		}); err != nil {
			return eris.Wrapf(err, "geofence: schedule zone refresh %q", e.refreshSpec)
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	log.Info("starting safety check loop",
		zap.Duration("interval", e.checkInterval),
		zap.String("refresh_schedule", e.refreshSpec),
	)

	ticker := time.NewTicker(e.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("safety check loop stopped")
			return nil
		case <-ticker.C:
			if _, err := e.CheckNow(ctx); err != nil && !errors.Is(err, ErrNoLocation) {
				log.Warn("safety check failed", zap.Error(err))
			}
		}
	}
}

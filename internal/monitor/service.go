// Package monitor assembles the safety agent: location feed, geofence
// evaluation, alert channel, incident window, contacts, dispatch and
// notifications, with one explicit lifecycle.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/safewatch/internal/channel"
	"github.com/sells-group/safewatch/internal/config"
	"github.com/sells-group/safewatch/internal/contacts"
	"github.com/sells-group/safewatch/internal/dispatch"
	"github.com/sells-group/safewatch/internal/geofence"
	"github.com/sells-group/safewatch/internal/incidents"
	"github.com/sells-group/safewatch/internal/location"
	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/internal/notify"
	"github.com/sells-group/safewatch/internal/resilience"
	"github.com/sells-group/safewatch/internal/session"
	"github.com/sells-group/safewatch/internal/status"
	"github.com/sells-group/safewatch/internal/store"
	"github.com/sells-group/safewatch/pkg/api"
	"github.com/sells-group/safewatch/pkg/risk"
)

// ErrNotLoggedIn is returned by Run without an authenticated session.
var ErrNotLoggedIn = eris.New("monitor: not logged in")

// Deps are the collaborators the service does not own.
type Deps struct {
	API      api.Client
	Session  *session.Manager
	Store    store.Store
	Provider location.Provider
	Risk     risk.Client       // nil disables risk warnings
	Sinks    []notify.Notifier // extra notification sinks
	Zones    []model.SafeZone  // seed zones used instead of the backend fetch
}

// Service is one running agent.
type Service struct {
	cfg     *config.Config
	session *session.Manager
	risk    risk.Client
	seed    []model.SafeZone

	breaker    *resilience.CircuitBreaker
	feed       *location.Feed
	reporter   *location.Reporter
	evaluator  *geofence.Evaluator
	channel    *channel.Channel
	window     *incidents.Window
	contacts   *contacts.Store
	dispatcher *dispatch.Dispatcher
	recorder   *notify.Recorder
	notifier   notify.Notifier
	status     *status.Server

	outbox  chan notify.Notification
	uploads chan model.LocationSample
	risks   chan model.LocationSample

	mu        sync.Mutex
	cancel    context.CancelFunc
	closed    bool
	closeOnce sync.Once
}

// New builds every component from cfg. Nothing runs until Run.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	switch {
	case cfg == nil:
		return nil, eris.New("monitor: config is required")
	case deps.API == nil:
		return nil, eris.New("monitor: api client is required")
	case deps.Session == nil:
		return nil, eris.New("monitor: session is required")
	case deps.Store == nil:
		return nil, eris.New("monitor: store is required")
	case deps.Provider == nil:
		return nil, eris.New("monitor: location provider is required")
	}

	retry := resilience.FromRetryConfig(cfg.API.Retry.MaxAttempts, cfg.API.Retry.InitialBackoffMs, cfg.API.Retry.MaxBackoffMs)
	s := &Service{
		cfg:      cfg,
		session:  deps.Session,
		risk:     deps.Risk,
		seed:     deps.Zones,
		recorder: notify.NewRecorder(100),
		outbox:   make(chan notify.Notification, 64),
		uploads:  make(chan model.LocationSample, 1),
		risks:    make(chan model.LocationSample, 1),
	}

	cbCfg := resilience.FromCircuitConfig(cfg.API.Circuit.FailureThreshold, cfg.API.Circuit.ResetTimeoutSecs)
	cbCfg.Name = "backend"
	cbCfg.ShouldTrip = api.Retryable
	cbCfg.OnStateChange = s.onBackendState
	s.breaker = resilience.NewCircuitBreaker(cbCfg)

	sinks := notify.Multi{notify.LogNotifier{}, s.recorder}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.Notify.WebhookURL, time.Duration(cfg.Notify.WebhookTimeoutSecs)*time.Second))
	}
	sinks = append(sinks, deps.Sinks...)
	s.notifier = notify.Filtered{Next: sinks, Settings: deps.Store}

	s.feed = location.NewFeed(deps.Provider)
	s.reporter = location.NewReporter(deps.Session, deps.API, cfg.Location.UploadPerMinute)
	s.evaluator = geofence.NewEvaluator(deps.Session, deps.API,
		geofence.WithRetry(retry),
		geofence.WithBreaker(s.breaker),
		geofence.WithCheckInterval(cfg.Geofence.CheckInterval()),
		geofence.WithRefreshSchedule(cfg.Geofence.RefreshSchedule),
	)
	s.contacts = contacts.New(deps.Session, deps.API, deps.Store)
	s.window = incidents.New(deps.Session, deps.API, s.evaluator,
		incidents.WithRadius(cfg.Incidents.RadiusMeters),
		incidents.WithMaxAlerts(cfg.Incidents.MaxAlerts),
		incidents.WithRetry(retry),
		incidents.WithBreaker(s.breaker),
	)

	var events dispatch.Publisher
	if cfg.Realtime.Enabled {
		s.channel = channel.New(deps.Session, channel.Options{
			URL:              cfg.Realtime.URL,
			ReconnectInitial: time.Duration(cfg.Realtime.ReconnectInitialMs) * time.Millisecond,
			ReconnectMax:     time.Duration(cfg.Realtime.ReconnectMaxMs) * time.Millisecond,
			WriteTimeout:     time.Duration(cfg.Realtime.WriteTimeoutSecs) * time.Second,
		})
		s.window.Attach(s.channel)
		s.channel.OnConnect(s.reconcileContacts)
		events = s.channel
	}
	s.dispatcher = dispatch.New(deps.Session, deps.API, s.contacts, s.notifier, events)

	if cfg.Status.Port > 0 {
		s.status = status.New(s, cfg.Status.AllowedOrigins)
	}

	s.wire()
	return s, nil
}

// wire connects component events to notifications.
func (s *Service) wire() {
	s.evaluator.OnEnter(func(zones []model.SafeZone, _ model.LocationSample) {
		names := make([]string, len(zones))
		for i, z := range zones {
			names[i] = z.Name
		}
		s.post(notify.Notification{
			Category: notify.CategoryZone,
			Priority: notify.PriorityDefault,
			Title:    "Entered safe zone",
			Body:     strings.Join(names, ", "),
		})
	})
	s.evaluator.OnExit(func(at model.LocationSample) {
		s.post(notify.Notification{
			Category: notify.CategoryZone,
			Priority: notify.PriorityHigh,
			Title:    "Left safe zone",
			Body:     "You are no longer inside a safe zone.",
			Data:     map[string]any{"lat": at.Latitude, "lng": at.Longitude},
		})
	})

	s.window.OnAlert(func(kind channel.EventKind, a model.PanicAlert) {
		n := notify.Notification{Data: map[string]any{"alert_id": a.ID, "lat": a.Lat, "lng": a.Lng}}
		switch kind {
		case channel.EventPanicAlert:
			n.Category, n.Priority, n.Title = notify.CategoryPanic, notify.PriorityHigh, "Panic alert nearby"
		case channel.EventIncident:
			n.Category, n.Priority, n.Title = notify.CategoryIncident, notify.PriorityHigh, "Incident reported nearby"
		default:
			n.Category, n.Priority, n.Title = notify.CategoryIncident, notify.PriorityDefault, "Alert acknowledged"
		}
		if here, ok := s.evaluator.LastKnown(); ok {
			n.Body = fmt.Sprintf("%.0f m away", distance(here, a))
		}
		if a.Description != "" {
			n.Body = strings.TrimSpace(a.Description + " " + n.Body)
		}
		s.post(n)
	})

	s.reporter.OnAnomaly(func(_ model.LocationSample, an api.LocationAnomaly) {
		s.post(notify.Notification{
			Category: notify.CategoryRisk,
			Priority: notify.PriorityHigh,
			Title:    "Unusual movement detected",
			Body:     an.Reason,
			Data:     map[string]any{"confidence": an.Confidence},
		})
	})
}

// post queues a notification without blocking the caller. Listeners run
// under component locks, so delivery happens on its own goroutine.
func (s *Service) post(n notify.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	select {
	case s.outbox <- n:
	default:
		zap.L().Warn("notification outbox full, dropping", zap.String("component", "monitor"), zap.String("title", n.Title))
	}
}

// onBackendState tells the user when cached data starts or stops standing in
// for the backend.
func (s *Service) onBackendState(from, to resilience.CircuitState) {
	switch {
	case to == resilience.CircuitOpen && from == resilience.CircuitClosed:
		s.post(notify.Notification{
			Category: notify.CategoryService,
			Priority: notify.PriorityDefault,
			Title:    "Safety service unreachable",
			Body:     "Using saved safe zones until the connection returns.",
		})
	case to == resilience.CircuitClosed:
		s.post(notify.Notification{
			Category: notify.CategoryService,
			Priority: notify.PriorityDefault,
			Title:    "Safety service reachable again",
		})
	}
}

// onSample is the feed callback for both streams.
func (s *Service) onSample(sample model.LocationSample) {
	s.evaluator.Evaluate(sample)
	s.window.Relocate()
	offer(s.uploads, sample)
	if s.risk != nil {
		offer(s.risks, sample)
	}
}

// offer replaces any queued sample with the newest one.
func offer(ch chan model.LocationSample, sample model.LocationSample) {
	for {
		select {
		case ch <- sample:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Run starts every activity and blocks until ctx is cancelled, Close is
// called, or an activity fails.
func (s *Service) Run(ctx context.Context) error {
	if !s.session.Authenticated() {
		return ErrNotLoggedIn
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return eris.New("monitor: service closed")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	log := zap.L().With(zap.String("component", "monitor"))

	if len(s.seed) > 0 {
		s.evaluator.SetZones(s.seed)
	} else if err := s.evaluator.Initialize(ctx); err != nil {
		log.Warn("initial zone load failed, continuing with an empty zone cache", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.deliver(gctx) })
	g.Go(func() error { return s.uploadLoop(gctx) })
	if s.risk != nil {
		g.Go(func() error { return s.riskLoop(gctx) })
	}
	g.Go(func() error { return s.evaluator.Run(gctx) })
	if s.channel != nil {
		g.Go(func() error { return s.channel.Run(gctx) })
	} else {
		g.Go(func() error {
			s.reconcileContacts(gctx)
			return nil
		})
	}
	if s.status != nil {
		addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Status.Port)
		g.Go(func() error { return s.status.Serve(gctx, addr) })
	}

	fg := location.Options{
		Accuracy:               location.ParseAccuracy(s.cfg.Location.Accuracy),
		TimeInterval:           time.Duration(s.cfg.Location.TimeIntervalMs) * time.Millisecond,
		DistanceIntervalMeters: s.cfg.Location.DistanceIntervalMeters,
	}
	bg := location.Options{
		Accuracy:               location.AccuracyBalanced,
		TimeInterval:           time.Duration(s.cfg.Location.BackgroundTimeIntervalMs) * time.Millisecond,
		DistanceIntervalMeters: s.cfg.Location.BackgroundDistanceIntervalMeters,
	}
	if _, ok := s.feed.Start(gctx, s.onSample, fg); !ok {
		log.Warn("foreground location unavailable")
	}
	if _, ok := s.feed.StartBackground(gctx, s.onSample, bg); !ok {
		log.Info("background location unavailable")
	}

	g.Go(func() error {
		<-gctx.Done()
		s.feed.Close()
		return nil
	})

	log.Info("monitoring started",
		zap.Int("zones", len(s.evaluator.Zones())),
		zap.Bool("realtime", s.channel != nil),
		zap.Bool("risk", s.risk != nil),
	)
	err := g.Wait()
	log.Info("monitoring stopped")
	return err
}

// Close stops everything Run started. It is idempotent.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.feed.Close()
		if s.channel != nil {
			s.channel.Disconnect()
		}
		s.window.Detach()
	})
	return nil
}

func (s *Service) deliver(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-s.outbox:
			if err := s.notifier.Notify(ctx, n); err != nil {
				zap.L().Warn("notification delivery failed", zap.String("component", "monitor"), zap.Error(err))
			}
		}
	}
}

func (s *Service) uploadLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sample := <-s.uploads:
			_, _ = s.reporter.Report(ctx, sample)
		}
	}
}

// riskLoop warns once each time the area score rises to the threshold.
func (s *Service) riskLoop(ctx context.Context) error {
	high := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case sample := <-s.risks:
			r, err := s.risk.AreaRisk(ctx, sample.Point(), s.cfg.Risk.RadiusMeters)
			if err != nil {
				zap.L().Debug("area risk unavailable", zap.String("component", "monitor"), zap.Error(err))
				continue
			}
			now := r.RiskScore >= s.cfg.Risk.Threshold
			if now && !high {
				body := fmt.Sprintf("Risk level %s (%.2f).", r.RiskLevel, r.RiskScore)
				if len(r.Recommendations) > 0 {
					body += " " + r.Recommendations[0] + "."
				}
				s.post(notify.Notification{
					Category: notify.CategoryRisk,
					Priority: notify.PriorityHigh,
					Title:    "Elevated risk in this area",
					Body:     body,
					Data:     map[string]any{"risk_score": r.RiskScore, "risk_level": r.RiskLevel},
				})
			}
			high = now
		}
	}
}

func (s *Service) reconcileContacts(ctx context.Context) {
	res, err := s.contacts.Reconcile(ctx)
	if err != nil {
		zap.L().Warn("contact reconciliation failed", zap.String("component", "monitor"), zap.Error(err))
		return
	}
	if res.Applied+res.Refused+res.GivenUp > 0 {
		s.post(notify.Notification{
			Category: notify.CategoryAction,
			Priority: notify.PriorityDefault,
			Title:    "Contacts synced",
			Body:     fmt.Sprintf("%d offline change(s) applied, %d refused.", res.Applied, res.Refused+res.GivenUp),
		})
	}
}

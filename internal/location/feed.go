// Package location produces the device location stream and uploads samples
// to the backend.
package location

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/geo"
)

// Accuracy is the requested fix quality.
type Accuracy string

const (
	AccuracyHigh     Accuracy = "high"     // GPS-grade fixes for foreground tracking
	AccuracyBalanced Accuracy = "balanced" // coarser fixes for background tracking
	AccuracyLow      Accuracy = "low"      // network-level fixes
)

// ParseAccuracy maps a config string to an Accuracy, defaulting to high.
func ParseAccuracy(s string) Accuracy {
	switch Accuracy(s) {
	case AccuracyBalanced, AccuracyLow:
		return Accuracy(s)
	default:
		return AccuracyHigh
	}
}

// Mode distinguishes foreground from background permission.
type Mode int

const (
	// ModeForeground covers tracking while the app is in use.
	ModeForeground Mode = iota
	// ModeBackground covers tracking that continues while suspended.
	ModeBackground
)

func (m Mode) String() string {
	if m == ModeBackground {
		return "background"
	}
	return "foreground"
}

// Provider is the device location source. Subscribe streams samples until
// ctx is cancelled or the provider runs out.
type Provider interface {
	Permission(ctx context.Context, mode Mode) (bool, error)
	Subscribe(ctx context.Context, accuracy Accuracy) (<-chan model.LocationSample, error)
}

// Options controls emission cadence. A sample is emitted when TimeInterval
// has elapsed or the device moved DistanceIntervalMeters since the last
// emitted sample, whichever comes first. Zero values disable a trigger; with
// both disabled every sample is emitted.
type Options struct {
	Accuracy               Accuracy
	TimeInterval           time.Duration
	DistanceIntervalMeters float64
}

// Callback receives emitted samples, one at a time, in capture order.
type Callback func(model.LocationSample)

// Subscription is a running location stream.
type Subscription struct {
	mode    Mode
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
}

// Stop ends the stream. It is idempotent, safe from inside the callback and
// never waits for an in-flight callback. A callback that already passed the
// stop check may still run once; none runs after Done is closed.
func (s *Subscription) Stop() {
	if s == nil {
		return
	}
	s.stopped.Store(true)
	s.cancel()
}

// Done is closed once the stream goroutine exits.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Feed manages at most one foreground and one background subscription.
type Feed struct {
	provider Provider

	mu sync.Mutex
	fg *Subscription
	bg *Subscription
}

// NewFeed creates a feed over provider.
func NewFeed(provider Provider) *Feed {
	return &Feed{provider: provider}
}

// Start begins the foreground stream, stopping any previous one first. It
// returns false when permission is missing or the provider cannot start;
// the feed then never emits.
func (f *Feed) Start(ctx context.Context, cb Callback, opts Options) (*Subscription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fg.Stop()
	f.fg = nil

	sub, ok := f.start(ctx, ModeForeground, cb, opts)
	if ok {
		f.fg = sub
	}
	return sub, ok
}

// StartBackground begins the low-frequency stream, independent of the
// foreground one.
func (f *Feed) StartBackground(ctx context.Context, cb Callback, opts Options) (*Subscription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bg.Stop()
	f.bg = nil

	sub, ok := f.start(ctx, ModeBackground, cb, opts)
	if ok {
		f.bg = sub
	}
	return sub, ok
}

// Stop ends the foreground stream.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fg.Stop()
	f.fg = nil
}

// StopBackground ends the background stream.
func (f *Feed) StopBackground() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bg.Stop()
	f.bg = nil
}

// Close ends both streams.
func (f *Feed) Close() {
	f.Stop()
	f.StopBackground()
}

// Active reports whether a foreground stream is running.
func (f *Feed) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fg != nil
}

func (f *Feed) start(ctx context.Context, mode Mode, cb Callback, opts Options) (*Subscription, bool) {
	log := zap.L().With(zap.String("component", "location"), zap.Stringer("mode", mode))

	granted, err := f.provider.Permission(ctx, mode)
	if err != nil {
		log.Warn("permission check failed", zap.Error(err))
		return nil, false
	}
	if !granted {
		log.Info("location permission not granted")
		return nil, false
	}

	sctx, cancel := context.WithCancel(ctx)
	ch, err := f.provider.Subscribe(sctx, opts.Accuracy)
	if err != nil {
		cancel()
		log.Warn("subscribe failed", zap.Error(err))
		return nil, false
	}

	sub := &Subscription{mode: mode, cancel: cancel, done: make(chan struct{})}
	go sub.run(sctx, ch, cb, opts)
	return sub, true
}

func (s *Subscription) run(ctx context.Context, ch <-chan model.LocationSample, cb Callback, opts Options) {
	defer close(s.done)

	var last *model.LocationSample
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-ch:
			if !ok {
				return
			}
			if !geo.Valid(sample.Point()) {
				zap.L().Debug("dropping invalid sample", zap.String("component", "location"))
				continue
			}
			if last != nil && sample.CapturedAt.Before(last.CapturedAt) {
				zap.L().Debug("dropping out-of-order sample", zap.String("component", "location"))
				continue
			}
			if last != nil && !due(*last, sample, opts) {
				continue
			}
			if s.stopped.Load() {
				return
			}
			cb(sample)
			emitted := sample
			last = &emitted
		}
	}
}

// due reports whether next should be emitted after prev.
func due(prev, next model.LocationSample, opts Options) bool {
	if opts.TimeInterval <= 0 && opts.DistanceIntervalMeters <= 0 {
		return true
	}
	if opts.TimeInterval > 0 && next.CapturedAt.Sub(prev.CapturedAt) >= opts.TimeInterval {
		return true
	}
	if opts.DistanceIntervalMeters > 0 && geo.DistanceMeters(prev.Point(), next.Point()) >= opts.DistanceIntervalMeters {
		return true
	}
	return false
}

package incidents

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/safewatch/internal/channel"
	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/geo"
)

type directCaller struct{}

func (directCaller) Call(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	return fn(ctx, "tok")
}

type fixedLocator struct {
	sample *model.LocationSample
}

func (l fixedLocator) LastKnown() (model.LocationSample, bool) {
	if l.sample == nil {
		return model.LocationSample{}, false
	}
	return *l.sample, true
}

func locatedAt(lat, lng float64) fixedLocator {
	return fixedLocator{sample: &model.LocationSample{Latitude: lat, Longitude: lng, CapturedAt: time.Now()}}
}

// movingLocator is a locator the test can move between calls.
type movingLocator struct {
	mu     sync.Mutex
	sample *model.LocationSample
}

func (l *movingLocator) LastKnown() (model.LocationSample, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sample == nil {
		return model.LocationSample{}, false
	}
	return *l.sample, true
}

func (l *movingLocator) moveTo(lat, lng float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sample = &model.LocationSample{Latitude: lat, Longitude: lng, CapturedAt: time.Now()}
}

type fakeBackend struct {
	calls  atomic.Int32
	alerts []model.PanicAlert
	err    error
	asked  []geo.Point
	radius float64
}

func (b *fakeBackend) PanicAlertsNear(_ context.Context, _ string, p geo.Point, r float64) ([]model.PanicAlert, error) {
	b.calls.Add(1)
	b.asked = append(b.asked, p)
	b.radius = r
	return b.alerts, b.err
}

// fakeSource is an in-memory event source.
type fakeSource struct {
	mu        sync.Mutex
	next      channel.ListenerID
	handlers  map[channel.EventKind]map[channel.ListenerID]channel.Handler
	onConnect []func(context.Context)
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: map[channel.EventKind]map[channel.ListenerID]channel.Handler{}}
}

func (s *fakeSource) On(kind channel.EventKind, fn channel.Handler) channel.ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	if s.handlers[kind] == nil {
		s.handlers[kind] = map[channel.ListenerID]channel.Handler{}
	}
	s.handlers[kind][s.next] = fn
	return s.next
}

func (s *fakeSource) Off(kind channel.EventKind, ids ...channel.ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.handlers[kind], id)
	}
}

func (s *fakeSource) OnConnect(fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

func (s *fakeSource) emit(kind channel.EventKind, a model.PanicAlert) {
	data, _ := json.Marshal(a)
	s.mu.Lock()
	var hs []channel.Handler
	for _, h := range s.handlers[kind] {
		hs = append(hs, h)
	}
	s.mu.Unlock()
	for _, h := range hs {
		h(channel.Event{Kind: kind, Data: data, ReceivedAt: time.Now()})
	}
}

func (s *fakeSource) connect(ctx context.Context) {
	s.mu.Lock()
	hooks := append([]func(context.Context){}, s.onConnect...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
}

func (s *fakeSource) listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, hs := range s.handlers {
		n += len(hs)
	}
	return n
}

package location

import (
	"context"
	"errors"
	"sync"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/api"
)

// chanProvider hands out a test-controlled channel per subscription.
type chanProvider struct {
	mu           sync.Mutex
	granted      map[Mode]bool
	subscribeErr error
	subs         []chan model.LocationSample
}

func newChanProvider() *chanProvider {
	return &chanProvider{granted: map[Mode]bool{ModeForeground: true, ModeBackground: true}}
}

func (p *chanProvider) Permission(_ context.Context, mode Mode) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted[mode], nil
}

func (p *chanProvider) Subscribe(_ context.Context, _ Accuracy) (<-chan model.LocationSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribeErr != nil {
		return nil, p.subscribeErr
	}
	ch := make(chan model.LocationSample)
	p.subs = append(p.subs, ch)
	return ch, nil
}

func (p *chanProvider) sub(i int) chan model.LocationSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs[i]
}

type directCaller struct {
	token string
}

func (c directCaller) Call(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	return fn(ctx, c.token)
}

type fakeUploader struct {
	mu      sync.Mutex
	samples []model.LocationSample
	result  *api.LocationResult
	fail    bool
}

func (u *fakeUploader) ReportLocation(_ context.Context, _ string, s model.LocationSample) (*api.LocationResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail {
		return nil, &api.Error{Kind: api.KindNetwork, Op: "report location", Err: errors.New("offline")}
	}
	u.samples = append(u.samples, s)
	if u.result != nil {
		return u.result, nil
	}
	return &api.LocationResult{Saved: true}, nil
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.samples)
}

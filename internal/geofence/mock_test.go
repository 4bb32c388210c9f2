package geofence

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/geo"
)

type directCaller struct{}

func (directCaller) Call(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	return fn(ctx, "tok")
}

type fakeBackend struct {
	mu        sync.Mutex
	zones     []model.SafeZone
	zonesErr  error
	zoneCalls atomic.Int32
	status    *model.SafetyStatus
	statusErr error
	checked   []geo.Point
}

func (b *fakeBackend) SafeZones(context.Context, string) ([]model.SafeZone, error) {
	b.zoneCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.zonesErr != nil {
		return nil, b.zonesErr
	}
	return append([]model.SafeZone(nil), b.zones...), nil
}

func (b *fakeBackend) CheckSafety(_ context.Context, _ string, p geo.Point) (*model.SafetyStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checked = append(b.checked, p)
	if b.statusErr != nil {
		return nil, b.statusErr
	}
	st := *b.status
	return &st, nil
}

func (b *fakeBackend) setZonesErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.zonesErr = err
}

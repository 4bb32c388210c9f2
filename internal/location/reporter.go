package location

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/api"
)

// Caller runs a backend call with the session token.
type Caller interface {
	Call(ctx context.Context, fn func(ctx context.Context, token string) error) error
}

// Uploader sends a sample to the backend.
type Uploader interface {
	ReportLocation(ctx context.Context, token string, s model.LocationSample) (*api.LocationResult, error)
}

// Reporter uploads samples to the backend, dropping those over the upload
// budget so the feed never blocks on the network.
type Reporter struct {
	session   Caller
	uploader  Uploader
	limiter   *rate.Limiter
	onAnomaly func(model.LocationSample, api.LocationAnomaly)
}

// NewReporter creates a reporter allowing perMinute uploads per minute.
// perMinute <= 0 disables throttling.
func NewReporter(session Caller, uploader Uploader, perMinute int) *Reporter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Reporter{
		session:  session,
		uploader: uploader,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// OnAnomaly registers a hook for samples the backend flags as anomalous.
func (r *Reporter) OnAnomaly(fn func(model.LocationSample, api.LocationAnomaly)) {
	r.onAnomaly = fn
}

// Report uploads s unless the budget is exhausted. It reports whether an
// upload was attempted.
func (r *Reporter) Report(ctx context.Context, s model.LocationSample) (bool, error) {
	if !r.limiter.Allow() {
		return false, nil
	}

	var res *api.LocationResult
	err := r.session.Call(ctx, func(ctx context.Context, token string) error {
		var err error
		res, err = r.uploader.ReportLocation(ctx, token, s)
		return err
	})
	if err != nil {
		zap.L().Warn("location upload failed",
			zap.String("component", "location"),
			zap.Stringer("kind", api.KindOf(err)),
			zap.Error(err),
		)
		return true, err
	}

	if res != nil && res.Anomaly != nil && res.Anomaly.IsAnomaly {
		zap.L().Warn("backend flagged location anomaly",
			zap.String("component", "location"),
			zap.Float64("confidence", res.Anomaly.Confidence),
			zap.String("reason", res.Anomaly.Reason),
		)
		if r.onAnomaly != nil {
			r.onAnomaly(s, *res.Anomaly)
		}
	}
	return true, nil
}

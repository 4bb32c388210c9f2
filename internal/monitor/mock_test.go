package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/safewatch/internal/config"
	"github.com/sells-group/safewatch/internal/location"
	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/internal/session"
	"github.com/sells-group/safewatch/internal/store"
	"github.com/sells-group/safewatch/pkg/api"
	"github.com/sells-group/safewatch/pkg/geo"
)

var (
	hotel   = geo.Point{Lat: 28.6139, Lng: 77.2090}
	faraway = geo.Point{Lat: 28.7041, Lng: 77.1025}
)

func testConfig() *config.Config {
	return &config.Config{
		API: config.APIConfig{
			Retry:   config.RetryConfig{MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 1},
			Circuit: config.CircuitConfig{FailureThreshold: 5, ResetTimeoutSecs: 30},
		},
		Risk:      config.RiskConfig{Threshold: 0.7, RadiusMeters: 1000},
		Geofence:  config.GeofenceConfig{CheckIntervalSecs: 3600},
		Incidents: config.IncidentsConfig{RadiusMeters: 5000, MaxAlerts: 50},
		Location:  config.LocationConfig{Accuracy: "high"},
	}
}

// backend is a minimal safety API.
type backend struct {
	mu        sync.Mutex
	zones     []model.SafeZone
	failZones atomic.Bool
	uploads   atomic.Int32
	panics    atomic.Int32
	lastPanic api.PanicRequest
}

func (b *backend) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/safe-zones":
		if b.failZones.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"safeZones": b.zones}) //nolint:errcheck
	case "/location":
		b.uploads.Add(1)
		w.Write([]byte(`{"id":"loc-1"}`)) //nolint:errcheck
	case "/emergency-contacts":
		w.Write([]byte(`[]`)) //nolint:errcheck
	case "/panic-alerts/near":
		w.Write([]byte(`[]`)) //nolint:errcheck
	case "/panic":
		var req api.PanicRequest
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		b.mu.Lock()
		b.lastPanic = req
		b.mu.Unlock()
		b.panics.Add(1)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.PanicAlert{ID: "p-1", Lat: req.Lat, Lng: req.Lng, Timestamp: req.Timestamp}) //nolint:errcheck
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	cfg     *config.Config
	backend *backend
	deps    Deps
}

func newHarness(t *testing.T, track *location.Track, signedIn bool) *harness {
	t.Helper()
	b := &backend{zones: []model.SafeZone{{ID: "z1", Name: "Hotel", Center: hotel, RadiusMeters: 500, IsActive: true}}}
	srv := httptest.NewServer(http.HandlerFunc(b.handler))
	t.Cleanup(srv.Close)

	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck

	client := api.NewClient(api.WithBaseURL(srv.URL))
	if signedIn {
		require.NoError(t, db.SaveCredentials(context.Background(), model.SessionCredentials{AccessToken: "tok"}))
	}
	sess := session.NewManager(client, db)
	_, err = sess.Restore(context.Background())
	require.NoError(t, err)

	return &harness{
		cfg:     testConfig(),
		backend: b,
		deps: Deps{
			API:      client,
			Session:  sess,
			Store:    db,
			Provider: location.NewReplayProvider(track),
		},
	}
}

func walk(points ...geo.Point) *location.Track {
	tr := &location.Track{Interval: 20 * time.Millisecond, DenyBackground: true}
	for _, p := range points {
		tr.Points = append(tr.Points, location.TrackPoint{Lat: p.Lat, Lng: p.Lng})
	}
	return tr
}

type fakeRisk struct {
	score atomic.Value // float64
	calls atomic.Int32
}

func (f *fakeRisk) AreaRisk(_ context.Context, _ geo.Point, _ float64) (*model.AreaRisk, error) {
	f.calls.Add(1)
	return &model.AreaRisk{RiskScore: f.score.Load().(float64), RiskLevel: "high", Recommendations: []string{"Stay in well-lit areas"}}, nil
}

func (f *fakeRisk) Health(context.Context) error { return nil }

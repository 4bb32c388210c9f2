package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sells-group/safewatch/internal/channel"
	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/internal/notify"
	"github.com/sells-group/safewatch/pkg/api"
)

type directCaller struct{}

func (directCaller) Call(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	return fn(ctx, "tok")
}

type staticContacts struct {
	contacts []model.EmergencyContact
	err      error
}

func (s staticContacts) Active(context.Context) ([]model.EmergencyContact, error) {
	return model.ActiveContacts(s.contacts), s.err
}

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []channel.EventKind
	err   error
}

func (p *recordingPublisher) Publish(kind channel.EventKind, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
	return p.err
}

type fixture struct {
	d        *Dispatcher
	rec      *notify.Recorder
	events   *recordingPublisher
	requests *atomic.Int32
}

func newFixture(t *testing.T, contacts []model.EmergencyContact, h http.HandlerFunc) fixture {
	t.Helper()
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	rec := notify.NewRecorder(10)
	events := &recordingPublisher{}
	d := New(directCaller{}, api.NewClient(api.WithBaseURL(srv.URL)), staticContacts{contacts: contacts}, rec, events)
	return fixture{d: d, rec: rec, events: events, requests: &n}
}

var twoContacts = []model.EmergencyContact{
	{ID: "1", Name: "Ravi", Phone: "+919876543210", IsActive: true},
	{ID: "2", Name: "Meera", Phone: "+919812345678", IsActive: true},
	{ID: "3", Name: "Old", Phone: "+919800000000", IsActive: false},
}

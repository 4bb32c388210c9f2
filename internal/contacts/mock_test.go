package contacts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/internal/store"
	"github.com/sells-group/safewatch/pkg/api"
)

type directCaller struct{}

func (directCaller) Call(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	return fn(ctx, "tok")
}

var errOffline = &api.Error{Kind: api.KindNetwork, Op: "contacts", Err: errors.New("connection refused")}

// fakeBackend is an in-memory contacts API. Setting err makes every call
// fail with it.
type fakeBackend struct {
	mu       sync.Mutex
	contacts []model.EmergencyContact
	err      error
	nextID   int
	calls    int
}

func (b *fakeBackend) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *fakeBackend) Contacts(context.Context, string) ([]model.EmergencyContact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return append([]model.EmergencyContact(nil), b.contacts...), nil
}

func (b *fakeBackend) CreateContact(_ context.Context, _ string, c model.EmergencyContact) (*model.EmergencyContact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	b.nextID++
	c.ID = fmt.Sprintf("srv-%d", b.nextID)
	b.contacts = append(b.contacts, c)
	return &c, nil
}

func (b *fakeBackend) UpdateContact(_ context.Context, _ string, c model.EmergencyContact) (*model.EmergencyContact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	for i := range b.contacts {
		if b.contacts[i].ID == c.ID {
			b.contacts[i] = c
			return &c, nil
		}
	}
	return nil, &api.Error{Kind: api.KindRejected, Op: "update contact", StatusCode: 404}
}

func (b *fakeBackend) DeleteContact(_ context.Context, _ string, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return b.err
	}
	for i := range b.contacts {
		if b.contacts[i].ID == id {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			return nil
		}
	}
	return &api.Error{Kind: api.KindRejected, Op: "delete contact", StatusCode: 404}
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newTestStore(t *testing.T, b *fakeBackend, opts ...Option) (*Store, *store.SQLiteStore) {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "contacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	return New(directCaller{}, b, db, opts...), db
}

func contact(name, phone string) model.EmergencyContact {
	return model.EmergencyContact{Name: name, Phone: phone, Relationship: "friend", IsActive: true}
}

// Package contacts manages emergency contacts: a write-through cache over
// the backend that keeps working offline and replays offline changes.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/api"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// Backend is the contacts subset of the API.
type Backend interface {
	Contacts(ctx context.Context, token string) ([]model.EmergencyContact, error)
	CreateContact(ctx context.Context, token string, c model.EmergencyContact) (*model.EmergencyContact, error)
	UpdateContact(ctx context.Context, token string, c model.EmergencyContact) (*model.EmergencyContact, error)
	DeleteContact(ctx context.Context, token string, id string) error
}

// Caller runs a backend call with the session token.
type Caller interface {
	Call(ctx context.Context, fn func(ctx context.Context, token string) error) error
}

// Cache is the local persistence the store writes through to.
type Cache interface {
	GetContacts(ctx context.Context) ([]model.EmergencyContact, bool, error)
	SaveContacts(ctx context.Context, contacts []model.EmergencyContact) error
	EnqueuePending(ctx context.Context, p model.PendingContactChange) error
	ListPending(ctx context.Context) ([]model.PendingContactChange, error)
	UpdatePending(ctx context.Context, p model.PendingContactChange) error
	DeletePending(ctx context.Context, id string) error
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries caps how often a pending change is replayed before it is
// given up. Zero retries forever.
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// Store is the contact store. All mutations of the cache go through it and
// are serialized.
type Store struct {
	session    Caller
	backend    Backend
	cache      Cache
	validate   *validator.Validate
	maxRetries int
	newID      func() string

	mu sync.Mutex
}

// New creates a contact store.
func New(session Caller, backend Backend, cache Cache, opts ...Option) *Store {
	v := validator.New(validator.WithRequiredStructEnabled())
	// The stock e164 rule accepts 7 digits; contacts need 8 to 15.
	_ = v.RegisterValidation("e164", func(fl validator.FieldLevel) bool {
		return e164.MatchString(fl.Field().String())
	})

	s := &Store{
		session:    session,
		backend:    backend,
		cache:      cache,
		validate:   v,
		maxRetries: 10,
		newID:      func() string { return model.LocalIDPrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks a contact before any network call.
func (s *Store) Validate(c model.EmergencyContact) error {
	err := s.validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return api.ValidationError("contacts: validate", err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "e164":
			msgs = append(msgs, fmt.Sprintf("%s must be an E.164 number like +14155550123", strings.ToLower(fe.Field())))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return api.ValidationError("contacts: validate", strings.Join(msgs, "; "))
}

// Contacts fetches the contact list and writes it through to the cache. On
// any failure it returns the cached list, which may be empty.
func (s *Store) Contacts(ctx context.Context) ([]model.EmergencyContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contacts(ctx)
}

// Active returns the active contacts.
func (s *Store) Active(ctx context.Context) ([]model.EmergencyContact, error) {
	all, err := s.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	return model.ActiveContacts(all), nil
}

// Cached returns the cached list without contacting the backend.
func (s *Store) Cached(ctx context.Context) ([]model.EmergencyContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached(ctx)
}

func (s *Store) contacts(ctx context.Context) ([]model.EmergencyContact, error) {
	var fresh []model.EmergencyContact
	err := s.session.Call(ctx, func(ctx context.Context, token string) error {
		var err error
		fresh, err = s.backend.Contacts(ctx, token)
		return err
	})
	if err != nil {
		zap.L().Warn("contact fetch failed, serving cache", zap.String("component", "contacts"), zap.Error(err))
		return s.cached(ctx)
	}

	pending, err := s.cache.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	merged := overlay(fresh, pending)
	if err := s.cache.SaveContacts(ctx, merged); err != nil {
		zap.L().Warn("contact cache write failed", zap.String("component", "contacts"), zap.Error(err))
	}
	return merged, nil
}

func (s *Store) cached(ctx context.Context) ([]model.EmergencyContact, error) {
	list, _, err := s.cache.GetContacts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "contacts: read cache")
	}
	if list == nil {
		list = []model.EmergencyContact{}
	}
	return list, nil
}

// Save creates a contact. When the backend cannot be reached the contact is
// kept locally under a temporary id and queued for Reconcile. Validation
// failures and server refusals are returned without touching the cache.
func (s *Store) Save(ctx context.Context, c model.EmergencyContact) (*model.EmergencyContact, error) {
	if err := s.Validate(c); err != nil {
		return nil, err
	}
	c.ID = ""

	s.mu.Lock()
	defer s.mu.Unlock()

	var created *model.EmergencyContact
	err := s.session.Call(ctx, func(ctx context.Context, token string) error {
		var err error
		created, err = s.backend.CreateContact(ctx, token, c)
		return err
	})
	if err == nil {
		return created, s.modifyCache(ctx, func(list []model.EmergencyContact) []model.EmergencyContact {
			return upsert(list, *created)
		})
	}
	if refused(err) {
		return nil, err
	}

	c.ID = s.newID()
	if err := s.offline(ctx, model.ContactOpCreate, c, err); err != nil {
		return nil, err
	}
	return &c, s.modifyCache(ctx, func(list []model.EmergencyContact) []model.EmergencyContact {
		return append(list, c)
	})
}

// Update changes a contact. A contact that only exists locally is updated
// in the cache and in its queued create.
func (s *Store) Update(ctx context.Context, c model.EmergencyContact) (*model.EmergencyContact, error) {
	if c.ID == "" {
		return nil, api.ValidationError("contacts: update", "contact id is required")
	}
	if err := s.Validate(c); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.IsLocal() {
		if err := s.rewritePendingCreate(ctx, c); err != nil {
			return nil, err
		}
		return &c, s.modifyCache(ctx, func(list []model.EmergencyContact) []model.EmergencyContact {
			return upsert(list, c)
		})
	}

	var updated *model.EmergencyContact
	err := s.session.Call(ctx, func(ctx context.Context, token string) error {
		var err error
		updated, err = s.backend.UpdateContact(ctx, token, c)
		return err
	})
	if err == nil {
		return updated, s.modifyCache(ctx, func(list []model.EmergencyContact) []model.EmergencyContact {
			return upsert(list, *updated)
		})
	}
	if refused(err) {
		return nil, err
	}

	if err := s.offline(ctx, model.ContactOpUpdate, c, err); err != nil {
		return nil, err
	}
	return &c, s.modifyCache(ctx, func(list []model.EmergencyContact) []model.EmergencyContact {
		return upsert(list, c)
	})
}

// Delete removes a contact.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return api.ValidationError("contacts: delete", "contact id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	remove := func(list []model.EmergencyContact) []model.EmergencyContact {
		return without(list, id)
	}

	if strings.HasPrefix(id, model.LocalIDPrefix) {
		if err := s.dropPendingFor(ctx, id); err != nil {
			return err
		}
		return s.modifyCache(ctx, remove)
	}

	err := s.session.Call(ctx, func(ctx context.Context, token string) error {
		return s.backend.DeleteContact(ctx, token, id)
	})
	if err == nil {
		return s.modifyCache(ctx, remove)
	}
	if refused(err) {
		return err
	}

	if err := s.offline(ctx, model.ContactOpDelete, model.EmergencyContact{ID: id}, err); err != nil {
		return err
	}
	return s.modifyCache(ctx, remove)
}

// Pending returns the queued offline changes, oldest first.
func (s *Store) Pending(ctx context.Context) ([]model.PendingContactChange, error) {
	return s.cache.ListPending(ctx)
}

// offline queues a change after a failed backend call. Callers hold mu.
func (s *Store) offline(ctx context.Context, op model.ContactOp, c model.EmergencyContact, cause error) error {
	zap.L().Warn("backend unavailable, applying contact change locally",
		zap.String("component", "contacts"),
		zap.String("op", string(op)),
		zap.String("contact_id", c.ID),
		zap.Error(cause),
	)
	return s.cache.EnqueuePending(ctx, model.PendingContactChange{
		Op:           op,
		Contact:      c,
		MaxRetries:   s.maxRetries,
		LastError:    cause.Error(),
		CreatedAt:    time.Now().UTC(),
		LastFailedAt: time.Now().UTC(),
	})
}

func (s *Store) rewritePendingCreate(ctx context.Context, c model.EmergencyContact) error {
	pending, err := s.cache.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.Op == model.ContactOpCreate && p.Contact.ID == c.ID {
			p.Contact = c
			return s.cache.UpdatePending(ctx, p)
		}
	}
	return api.ValidationError("contacts: update", fmt.Sprintf("unknown local contact %s", c.ID))
}

func (s *Store) dropPendingFor(ctx context.Context, id string) error {
	pending, err := s.cache.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.Contact.ID == id {
			if err := s.cache.DeletePending(ctx, p.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) modifyCache(ctx context.Context, fn func([]model.EmergencyContact) []model.EmergencyContact) error {
	list, err := s.cached(ctx)
	if err != nil {
		return err
	}
	return eris.Wrap(s.cache.SaveContacts(ctx, fn(list)), "contacts: write cache")
}

// refused reports whether the backend answered and said no, as opposed to
// not being reachable.
func refused(err error) bool {
	switch api.KindOf(err) {
	case api.KindValidation, api.KindRejected:
		return true
	}
	return false
}

func upsert(list []model.EmergencyContact, c model.EmergencyContact) []model.EmergencyContact {
	for i := range list {
		if list[i].ID == c.ID {
			out := append([]model.EmergencyContact(nil), list...)
			out[i] = c
			return out
		}
	}
	return append(append([]model.EmergencyContact(nil), list...), c)
}

func without(list []model.EmergencyContact, id string) []model.EmergencyContact {
	out := make([]model.EmergencyContact, 0, len(list))
	for _, c := range list {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// overlay applies queued offline changes on top of a fresh server list.
func overlay(fresh []model.EmergencyContact, pending []model.PendingContactChange) []model.EmergencyContact {
	out := append([]model.EmergencyContact{}, fresh...)
	for _, p := range pending {
		switch p.Op {
		case model.ContactOpCreate, model.ContactOpUpdate:
			out = upsert(out, p.Contact)
		case model.ContactOpDelete:
			out = without(out, p.Contact.ID)
		}
	}
	return out
}

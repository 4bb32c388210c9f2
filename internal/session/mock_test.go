package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/api"
)

type fakeAuth struct {
	refreshCalls atomic.Int32
	refreshFn    func(ctx context.Context, refreshToken string) (*model.SessionCredentials, error)
	loginFn      func(ctx context.Context, req api.LoginRequest) (*model.SessionCredentials, error)
}

func (f *fakeAuth) Login(ctx context.Context, req api.LoginRequest) (*model.SessionCredentials, error) {
	return f.loginFn(ctx, req)
}

func (f *fakeAuth) Register(ctx context.Context, req api.RegisterRequest) (*model.SessionCredentials, error) {
	return f.loginFn(ctx, api.LoginRequest{Email: req.Email, Password: req.Password})
}

func (f *fakeAuth) Refresh(ctx context.Context, refreshToken string) (*model.SessionCredentials, error) {
	f.refreshCalls.Add(1)
	return f.refreshFn(ctx, refreshToken)
}

type memStore struct {
	mu      sync.Mutex
	creds   *model.SessionCredentials
	saves   int
	cleared int
}

func (s *memStore) GetCredentials(_ context.Context) (*model.SessionCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil, nil
	}
	c := *s.creds
	return &c, nil
}

func (s *memStore) SaveCredentials(_ context.Context, creds model.SessionCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &creds
	s.saves++
	return nil
}

func (s *memStore) ClearCredentials(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	s.cleared++
	return nil
}

func (s *memStore) snapshot() (*model.SessionCredentials, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.saves, s.cleared
}

func authErr() error {
	return &api.Error{Kind: api.KindAuthorization, Op: "test", StatusCode: 401}
}

// Package session holds the live credentials and wraps backend calls with
// transparent token renewal.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/api"
)

// ErrReauthenticate is returned when there is no usable session and the user
// must log in again.
var ErrReauthenticate = eris.New("session: re-authentication required")

// Authenticator is the subset of the backend the session needs.
type Authenticator interface {
	Login(ctx context.Context, req api.LoginRequest) (*model.SessionCredentials, error)
	Register(ctx context.Context, req api.RegisterRequest) (*model.SessionCredentials, error)
	Refresh(ctx context.Context, refreshToken string) (*model.SessionCredentials, error)
}

// CredentialStore persists credentials across restarts.
type CredentialStore interface {
	GetCredentials(ctx context.Context) (*model.SessionCredentials, error)
	SaveCredentials(ctx context.Context, creds model.SessionCredentials) error
	ClearCredentials(ctx context.Context) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithRefreshSkew renews tokens that expire within d before using them.
func WithRefreshSkew(d time.Duration) Option {
	return func(m *Manager) { m.skew = d }
}

// WithRefreshTimeout bounds a single renewal request.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// Manager owns the session credentials. Credentials are only replaced inside
// the single-flight renewal or by Login/Register/Logout.
type Manager struct {
	auth  Authenticator
	store CredentialStore

	group singleflight.Group

	mu    sync.RWMutex
	creds *model.SessionCredentials

	skew    time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewManager creates a Manager with no credentials. Call Restore to load
// persisted ones.
func NewManager(auth Authenticator, store CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		auth:    auth,
		store:   store,
		skew:    time.Minute,
		timeout: 15 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads persisted credentials. It reports whether a session exists.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	creds, err := m.store.GetCredentials(ctx)
	if err != nil {
		return false, eris.Wrap(err, "session: restore")
	}
	if creds == nil || creds.AccessToken == "" {
		return false, nil
	}
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	return true, nil
}

// Login authenticates with email and password and stores the session.
func (m *Manager) Login(ctx context.Context, email, password string) (*model.User, error) {
	creds, err := m.auth.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	return m.install(ctx, creds)
}

// Register creates an account and stores the session.
func (m *Manager) Register(ctx context.Context, req api.RegisterRequest) (*model.User, error) {
	creds, err := m.auth.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	return m.install(ctx, creds)
}

func (m *Manager) install(ctx context.Context, creds *model.SessionCredentials) (*model.User, error) {
	if creds.AccessToken == "" {
		return nil, eris.New("session: backend returned no token")
	}
	next := *creds
	m.mu.Lock()
	m.creds = &next
	m.mu.Unlock()
	if err := m.store.SaveCredentials(ctx, next); err != nil {
		return nil, eris.Wrap(err, "session: persist credentials")
	}
	return next.User, nil
}

// Logout clears the session in memory and in the store.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.creds = nil
	m.mu.Unlock()
	return eris.Wrap(m.store.ClearCredentials(ctx), "session: logout")
}

// Authenticated reports whether credentials are present.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds != nil
}

// User returns the signed-in user, or nil.
func (m *Manager) User() *model.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil || m.creds.User == nil {
		return nil
	}
	u := *m.creds.User
	return &u
}

func (m *Manager) current() *model.SessionCredentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

// Token returns an access token for an outgoing call, renewing it first
// when it is about to expire.
func (m *Manager) Token(ctx context.Context) (string, error) {
	creds := m.current()
	if creds == nil {
		return "", ErrReauthenticate
	}
	tok := creds.AccessToken

	exp := tokenExpiry(tok)
	if exp.IsZero() || m.now().Add(m.skew).Before(exp) {
		return tok, nil
	}

	fresh, err := m.renew(ctx, tok)
	if err == nil {
		return fresh, nil
	}
	if errors.Is(err, ErrReauthenticate) {
		return "", err
	}
	// Renewal failed without an authorization verdict. The old token may
	// still be accepted.
	zap.L().Warn("proactive token renewal failed", zap.String("component", "session"), zap.Error(err))
	return tok, nil
}

// Call runs fn with the current token. On an authorization failure the
// session is renewed and fn is replayed exactly once; the replay's result is
// final.
func (m *Manager) Call(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	tok, err := m.Token(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, tok)
	if err == nil || !api.IsAuthorization(err) {
		return err
	}

	fresh, rerr := m.renew(ctx, tok)
	if rerr != nil {
		return rerr
	}
	return fn(ctx, fresh)
}

// CallVal is Call for functions that return a value.
func CallVal[T any](ctx context.Context, m *Manager, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	var out T
	err := m.Call(ctx, func(ctx context.Context, token string) error {
		v, err := fn(ctx, token)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// renew replaces the credentials whose access token is stale. Concurrent
// callers share one refresh request. A caller whose stale token was already
// replaced gets the current token without another refresh.
func (m *Manager) renew(ctx context.Context, stale string) (string, error) {
	ch := m.group.DoChan("renew", func() (any, error) {
		cur := m.current()
		if cur == nil {
			return "", ErrReauthenticate
		}
		if cur.AccessToken != stale {
			return cur.AccessToken, nil
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()

		fresh, err := m.auth.Refresh(fctx, cur.RefreshToken)
		if err != nil {
			if api.IsAuthorization(err) {
				zap.L().Warn("refresh rejected, clearing session", zap.String("component", "session"), zap.Error(err))
				m.mu.Lock()
				m.creds = nil
				m.mu.Unlock()
				if cerr := m.store.ClearCredentials(fctx); cerr != nil {
					zap.L().Error("clear credentials", zap.String("component", "session"), zap.Error(cerr))
				}
				return "", ErrReauthenticate
			}
			return "", err
		}

		next := *fresh
		if next.RefreshToken == "" {
			next.RefreshToken = cur.RefreshToken
		}
		if next.User == nil {
			next.User = cur.User
		}

		m.mu.Lock()
		m.creds = &next
		m.mu.Unlock()

		if err := m.store.SaveCredentials(fctx, next); err != nil {
			zap.L().Error("persist renewed credentials", zap.String("component", "session"), zap.Error(err))
		}
		zap.L().Debug("session renewed", zap.String("component", "session"))
		return next.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// tokenExpiry reads the exp claim without verifying the signature. Opaque
// tokens yield the zero time.
func tokenExpiry(tok string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

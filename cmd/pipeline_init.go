package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/safewatch/internal/contacts"
	"github.com/sells-group/safewatch/internal/dispatch"
	"github.com/sells-group/safewatch/internal/notify"
	"github.com/sells-group/safewatch/internal/session"
	"github.com/sells-group/safewatch/internal/store"
	"github.com/sells-group/safewatch/pkg/api"
	"github.com/sells-group/safewatch/pkg/risk"
)

// agentEnv holds the store, backend client and session shared by every
// command.
type agentEnv struct {
	Store   *store.SQLiteStore
	API     api.Client
	Session *session.Manager
}

// Close releases resources held by the environment.
func (e *agentEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config, opens the local store and restores any saved
// session. Callers should defer env.Close().
func initEnv(ctx context.Context) (*agentEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(
		api.WithBaseURL(cfg.API.BaseURL),
		api.WithTimeout(time.Duration(cfg.API.TimeoutSecs)*time.Second),
	)
	sess := session.NewManager(client, st,
		session.WithRefreshSkew(time.Duration(cfg.Session.RefreshSkewSecs)*time.Second),
		session.WithRefreshTimeout(time.Duration(cfg.Session.RefreshTimeoutSecs)*time.Second),
	)
	ok, err := sess.Restore(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	zap.L().Debug("session restored", zap.Bool("authenticated", ok))

	return &agentEnv{Store: st, API: client, Session: sess}, nil
}

// requireSession is initEnv for commands that need a signed-in user.
func requireSession(ctx context.Context) (*agentEnv, error) {
	env, err := initEnv(ctx)
	if err != nil {
		return nil, err
	}
	if !env.Session.Authenticated() {
		env.Close()
		return nil, eris.New("not logged in: run `safewatch login` first")
	}
	return env, nil
}

// notifier returns the local sinks for one-shot commands.
func (e *agentEnv) notifier() notify.Notifier {
	sinks := notify.Multi{notify.LogNotifier{}}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.Notify.WebhookURL, time.Duration(cfg.Notify.WebhookTimeoutSecs)*time.Second))
	}
	return notify.Filtered{Next: sinks, Settings: e.Store}
}

func (e *agentEnv) contacts() *contacts.Store {
	return contacts.New(e.Session, e.API, e.Store)
}

// dispatcher builds a dispatcher without a realtime channel.
func (e *agentEnv) dispatcher() *dispatch.Dispatcher {
	return dispatch.New(e.Session, e.API, e.contacts(), e.notifier(), nil)
}

// riskClient returns nil when the risk oracle is disabled.
func riskClient() risk.Client {
	if !cfg.Risk.Enabled {
		return nil
	}
	return risk.NewClient(
		risk.WithBaseURL(cfg.Risk.BaseURL),
		risk.WithCacheTTL(time.Duration(cfg.Risk.CacheTTLSecs)*time.Second),
	)
}

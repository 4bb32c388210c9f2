package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/safewatch/internal/resilience"
)

// ErrNotConnected is returned by Publish while no connection is up.
var ErrNotConnected = eris.New("channel: not connected")

// TokenSource supplies the bearer token sent in the auth frame.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Handler receives inbound events. Handlers run on the read loop, in
// registration order.
type Handler func(Event)

// ListenerID identifies a registered handler for Off.
type ListenerID uint64

// Options configures a Channel.
type Options struct {
	URL              string
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	WriteTimeout     time.Duration
	Dialer           *websocket.Dialer
}

type listener struct {
	id ListenerID
	fn Handler
}

// Channel keeps one websocket connection open, reconnecting with backoff.
// Delivery is at most once per connection; nothing is replayed after a gap.
type Channel struct {
	tokens  TokenSource
	url     string
	dialer  *websocket.Dialer
	backoff resilience.RetryConfig
	writeTO time.Duration

	mu        sync.Mutex
	listeners map[EventKind][]listener
	nextID    ListenerID
	onConnect []func(ctx context.Context)

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a disconnected channel.
func New(tokens TokenSource, opts Options) *Channel {
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Channel{
		tokens: tokens,
		url:    opts.URL,
		dialer: dialer,
		backoff: resilience.RetryConfig{
			InitialBackoff: opts.ReconnectInitial,
			MaxBackoff:     opts.ReconnectMax,
			Multiplier:     2,
			JitterFraction: 0.2,
		},
		writeTO:   opts.WriteTimeout,
		listeners: make(map[EventKind][]listener),
		stop:      make(chan struct{}),
	}
}

// On registers fn for kind and returns its id.
func (c *Channel) On(kind EventKind, fn Handler) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.listeners[kind] = append(c.listeners[kind], listener{id: c.nextID, fn: fn})
	return c.nextID
}

// Off removes the given listeners of kind. Without ids every listener of
// kind is removed.
func (c *Channel) Off(kind EventKind, ids ...ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) == 0 {
		delete(c.listeners, kind)
		return
	}
	drop := make(map[ListenerID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := c.listeners[kind][:0:0]
	for _, l := range c.listeners[kind] {
		if !drop[l.id] {
			kept = append(kept, l)
		}
	}
	c.listeners[kind] = kept
}

// OnConnect registers a hook run after every successful (re)connect. Hooks
// run in their own goroutine and typically re-fetch state over REST.
func (c *Channel) OnConnect(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Connected reports whether a connection is currently up.
func (c *Channel) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Run connects and keeps reconnecting until ctx is done or Disconnect is
// called. It returns nil on either.
func (c *Channel) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "channel"))
	attempt := 0
	for {
		if c.stopped(ctx) {
			return nil
		}

		conn, err := c.dial(ctx)
		if err != nil {
			wait := resilience.Backoff(attempt, c.backoff)
			attempt++
			log.Warn("connect failed", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return nil
			case <-c.stop:
				return nil
			case <-time.After(wait):
			}
			continue
		}

		attempt = 0
		log.Info("connected", zap.String("url", c.url))
		c.setConn(conn)
		c.fireConnect(ctx)

		err = c.read(ctx, conn)
		c.setConn(nil)
		_ = conn.Close()

		if c.stopped(ctx) {
			log.Info("disconnected")
			return nil
		}
		log.Warn("connection lost", zap.Error(err))
	}
}

// Disconnect closes the connection and stops Run. It is idempotent and may
// be called from inside a handler.
func (c *Channel) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// Publish sends an outbound event. Publishing is best effort: nothing is
// queued while disconnected.
func (c *Channel) Publish(kind EventKind, data any) error {
	if kind.Inbound() {
		return eris.Errorf("channel: %s is not an outbound event", kind)
	}
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "channel: encode payload")
	}
	return c.write(conn, frame{Event: kind, Data: raw})
}

func (c *Channel) stopped(ctx context.Context) bool {
	select {
	case <-c.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "channel: session token")
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "channel: dial %s", c.url)
	}

	var auth authFrame
	auth.Auth.Token = token
	if err := c.write(conn, auth); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Channel) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTO))
	return eris.Wrap(conn.WriteJSON(v), "channel: write")
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	// A Disconnect racing with the dial would otherwise leave this
	// connection open.
	if conn != nil {
		select {
		case <-c.stop:
			_ = conn.Close()
		default:
		}
	}
}

func (c *Channel) fireConnect(ctx context.Context) {
	c.mu.Lock()
	hooks := append([]func(context.Context){}, c.onConnect...)
	c.mu.Unlock()
	for _, fn := range hooks {
		go fn(ctx)
	}
}

// read dispatches frames until the connection fails or is closed.
func (c *Channel) read(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			zap.L().Debug("dropping malformed frame", zap.String("component", "channel"), zap.Error(err))
			continue
		}
		if !f.Event.Inbound() {
			zap.L().Debug("dropping unknown event", zap.String("component", "channel"), zap.String("event", string(f.Event)))
			continue
		}
		c.dispatch(Event{Kind: f.Event, Data: f.Data, ReceivedAt: time.Now()})
	}
}

func (c *Channel) dispatch(ev Event) {
	c.mu.Lock()
	handlers := append([]listener(nil), c.listeners[ev.Kind]...)
	c.mu.Unlock()
	for _, l := range handlers {
		l.fn(ev)
	}
}

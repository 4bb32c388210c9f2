package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alertJSON = `{"id":"p1","userId":"u1","lat":28.6139,"lng":77.209,"timestamp":"2026-01-02T03:04:05Z","acknowledged":false}`

func start(t *testing.T, s *wsServer) (*Channel, *websocket.Conn, chan error) {
	t.Helper()
	c := New(staticToken("tok-1"), Options{
		URL:              s.wsURL(),
		ReconnectInitial: 5 * time.Millisecond,
		ReconnectMax:     20 * time.Millisecond,
	})
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	t.Cleanup(c.Disconnect)

	select {
	case conn := <-s.accepted:
		return c, conn, done
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil, nil, nil
	}
}

type received struct {
	mu     sync.Mutex
	events []Event
}

func (r *received) handler(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestChannel_AuthenticatesAndDelivers(t *testing.T) {
	t.Parallel()
	s := newWSServer(t)
	c, conn, _ := start(t, s)

	var got received
	c.On(EventPanicAlert, got.handler)

	push(t, conn, EventPanicAlert, alertJSON)
	require.Eventually(t, func() bool { return got.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	alert, err := got.events[0].Alert()
	require.NoError(t, err)
	assert.Equal(t, "p1", alert.ID)
	assert.InDelta(t, 28.6139, alert.Lat, 1e-9)

	s.mu.Lock()
	assert.Equal(t, []string{"tok-1"}, s.tokens)
	s.mu.Unlock()
}

func TestChannel_ListenersInOrderAndOff(t *testing.T) {
	t.Parallel()
	s := newWSServer(t)
	c, conn, _ := start(t, s)

	var mu sync.Mutex
	var order []string
	record := func(name string) Handler {
		return func(Event) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}
	first := c.On(EventIncident, record("first"))
	c.On(EventIncident, record("second"))
	c.On(EventAlertAcknowledged, record("ack"))

	push(t, conn, EventIncident, alertJSON)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 5*time.Millisecond)

	c.Off(EventIncident, first)
	push(t, conn, EventIncident, alertJSON)
	c.Off(EventAlertAcknowledged)
	push(t, conn, EventAlertAcknowledged, alertJSON)
	// A sentinel on a fresh listener shows the previous frames were processed.
	var sentinel received
	c.On(EventPanicAlert, sentinel.handler)
	push(t, conn, EventPanicAlert, alertJSON)
	require.Eventually(t, func() bool { return sentinel.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "second"}, order)
}

func TestChannel_DropsUnknownAndMalformed(t *testing.T) {
	t.Parallel()
	s := newWSServer(t)
	c, conn, _ := start(t, s)

	var got received
	c.On(EventIncident, got.handler)
	c.On(EventPanicTrigger, got.handler)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	push(t, conn, "weather", `{}`)
	push(t, conn, EventPanicTrigger, `{}`)
	push(t, conn, EventIncident, alertJSON)

	require.Eventually(t, func() bool { return got.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, got.count())
	assert.Equal(t, EventIncident, got.events[0].Kind)
}

func TestChannel_ReconnectsAndRunsHooks(t *testing.T) {
	t.Parallel()
	s := newWSServer(t)

	c := New(staticToken("tok-1"), Options{URL: s.wsURL(), ReconnectInitial: 5 * time.Millisecond, ReconnectMax: 20 * time.Millisecond})
	hooks := make(chan struct{}, 4)
	c.OnConnect(func(context.Context) { hooks <- struct{}{} })
	go func() { _ = c.Run(context.Background()) }()
	t.Cleanup(c.Disconnect)

	first := <-s.accepted
	<-hooks
	require.Eventually(t, c.Connected, time.Second, 5*time.Millisecond)

	_ = first.Close()

	select {
	case <-s.accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("did not reconnect")
	}
	select {
	case <-hooks:
	case <-time.After(2 * time.Second):
		t.Fatal("connect hook not run after reconnect")
	}
}

func TestChannel_DisconnectInsideHandler(t *testing.T) {
	t.Parallel()
	s := newWSServer(t)
	c, conn, done := start(t, s)

	c.On(EventIncident, func(Event) {
		c.Disconnect()
		c.Disconnect()
	})
	push(t, conn, EventIncident, alertJSON)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Disconnect")
	}
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Publish(EventPanicTrigger, map[string]string{}), ErrNotConnected)
}

func TestChannel_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	c := New(staticToken("tok"), Options{URL: "ws://127.0.0.1:1/ws", ReconnectInitial: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestChannel_Publish(t *testing.T) {
	t.Parallel()
	s := newWSServer(t)
	c, _, _ := start(t, s)
	require.Eventually(t, c.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Publish(EventPanicTrigger, map[string]any{"alertId": "p1"}))
	assert.Error(t, c.Publish(EventIncident, nil))

	require.Eventually(t, func() bool { return len(s.frames()) == 1 }, 2*time.Second, 5*time.Millisecond)
	f := s.frames()[0]
	assert.Equal(t, EventPanicTrigger, f.Event)
	assert.JSONEq(t, `{"alertId":"p1"}`, string(f.Data))
}

func TestEventKind_Inbound(t *testing.T) {
	t.Parallel()
	assert.True(t, EventIncident.Inbound())
	assert.True(t, EventPanicAlert.Inbound())
	assert.True(t, EventAlertAcknowledged.Inbound())
	assert.False(t, EventPanicTrigger.Inbound())
	assert.False(t, EventKind("other").Inbound())
}

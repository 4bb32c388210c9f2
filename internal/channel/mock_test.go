package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

// wsServer accepts connections, records auth tokens and received frames,
// and lets tests push frames to the newest connection.
type wsServer struct {
	*httptest.Server

	mu       sync.Mutex
	tokens   []string
	received []frame
	conns    []*websocket.Conn
	accepted chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{accepted: make(chan *websocket.Conn, 8)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var auth authFrame
		if err := conn.ReadJSON(&auth); err != nil {
			_ = conn.Close()
			return
		}
		s.mu.Lock()
		s.tokens = append(s.tokens, auth.Auth.Token)
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.accepted <- conn

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) == nil {
				s.mu.Lock()
				s.received = append(s.received, f)
				s.mu.Unlock()
			}
		}
	}))
	t.Cleanup(func() {
		s.mu.Lock()
		for _, c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.Close()
	})
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) frames() []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame(nil), s.received...)
}

func push(t *testing.T, conn *websocket.Conn, kind EventKind, payload string) {
	t.Helper()
	msg := `{"event":"` + string(kind) + `","data":` + payload + `}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("push: %v", err)
	}
}

package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"guru-chat/models"
)

// fakeServer is a realtime endpoint that records every frame it receives.
type fakeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	frames  []models.Frame
	auth    []string
	hold    chan struct{}
	refuse  bool
	accepts int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.close)
	return s
}

func (s *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func (s *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	hold := s.hold
	refuse := s.refuse
	s.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.accepts++
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f models.Frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		s.mu.Lock()
		s.frames = append(s.frames, f)
		s.mu.Unlock()
	}
}

// holdHandshakes makes new upgrade requests block until the returned func is called.
func (s *fakeServer) holdHandshakes() func() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold = ch
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.hold == ch {
			s.hold = nil
			close(ch)
		}
	}
}

func (s *fakeServer) setRefuse(refuse bool) {
	s.mu.Lock()
	s.refuse = refuse
	s.mu.Unlock()
}

// dropAll closes every accepted socket without a close handshake.
func (s *fakeServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *fakeServer) push(f models.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return websocket.ErrCloseSent
	}
	return s.conns[len(s.conns)-1].WriteJSON(f)
}

func (s *fakeServer) pushRaw(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return websocket.ErrCloseSent
	}
	return s.conns[len(s.conns)-1].WriteMessage(websocket.TextMessage, []byte(data))
}

// received returns recorded frames, skipping heartbeat pings unless asked for.
func (s *fakeServer) received(types ...models.EventType) []models.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Frame
	for _, f := range s.frames {
		if len(types) == 0 && f.Type != models.EventPing {
			out = append(out, f)
			continue
		}
		for _, t := range types {
			if f.Type == t {
				out = append(out, f)
			}
		}
	}
	return out
}

func (s *fakeServer) acceptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

func (s *fakeServer) authHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

func (s *fakeServer) close() {
	s.mu.Lock()
	if s.hold != nil {
		close(s.hold)
		s.hold = nil
	}
	s.mu.Unlock()
	s.dropAll()
	s.srv.Close()
}

func messageContents(t *testing.T, frames []models.Frame) []string {
	t.Helper()
	var out []string
	for _, f := range frames {
		var d models.MessageData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		out = append(out, d.Content)
	}
	return out
}

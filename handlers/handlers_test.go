package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"guru-chat/api"
	"guru-chat/models"
	"guru-chat/reconciler"
	"guru-chat/router"
	"guru-chat/session"
	"guru-chat/transport"
)

type testSession struct {
	store *session.Store
	conn  *transport.Connection
	rec   *reconciler.Reconciler
}

func (s *testSession) Store() *session.Store { return s.store }
func (s *testSession) Connection() *transport.Connection { return s.conn }
func (s *testSession) Reconciler() *reconciler.Reconciler { return s.rec }

type staticUsers struct{}

func (staticUsers) CurrentUser() (models.User, bool) {
	return models.User{ID: "user-1"}, true
}

// newTestSession wires a disconnected client whose REST gateway answers from a local
// server, so every send takes the REST path.
func newTestSession(t *testing.T) *testSession {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": models.Chat{ID: "chat-1", AgentID: "therapist"}})
	})
	mux.HandleFunc("POST /chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": models.Message{
			ID: "msg-1", ChatID: r.PathValue("id"), Content: body.Content, Role: models.RoleUser,
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	logger := zerolog.Nop()
	rt := router.New(logger)
	conn := transport.New(transport.Config{URL: "ws://127.0.0.1:1/ws"}, rt, logger)
	rest := api.New(srv.URL, nil, logger)
	rec := reconciler.New(conn, rest, rt, staticUsers{}, reconciler.Config{}, logger)
	store := session.New(rest, rec, staticUsers{}, nil, logger)
	rec.Start(store)
	t.Cleanup(func() {
		rec.Stop()
		store.Close()
	})
	return &testSession{store: store, conn: conn, rec: rec}
}

func TestHealthReportsConnection(t *testing.T) {
	s := newTestSession(t)
	rec := httptest.NewRecorder()
	HealthHandler(s)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","connection":"disconnected","queued":0,"oldestQueuedMs":0,"degraded":false}`, rec.Body.String())
}

func TestHealthReportsOldestQueuedFrame(t *testing.T) {
	s := newTestSession(t)
	_, err := s.conn.JoinChat("chat-1")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	rec := httptest.NewRecorder()
	HealthHandler(s)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Queued         int   `json:"queued"`
		OldestQueuedMs int64 `json:"oldestQueuedMs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, 1, body.Queued)
	require.GreaterOrEqual(t, body.OldestQueuedMs, int64(20))
}

func TestHealthWhenSignedOut(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(&testSession{})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.JSONEq(t, `{"status":"signed_out","connection":"disconnected","queued":0,"oldestQueuedMs":0,"degraded":false}`, rec.Body.String())
}

func dialView(t *testing.T, h http.Handler, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readResponse(t *testing.T, conn *websocket.Conn) WSResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var resp WSResponse
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestViewStreamsStateAndSends(t *testing.T) {
	s := newTestSession(t)
	conn, _, err := dialView(t, NewViewHandler(s, nil, zerolog.Nop()), nil)
	require.NoError(t, err)

	first := readResponse(t, conn)
	require.Equal(t, "view", first.Type)
	require.Nil(t, first.View.Current)

	require.NoError(t, conn.WriteJSON(WSIncoming{Text: "hello", AgentID: "therapist"}))

	for {
		resp := readResponse(t, conn)
		require.Equal(t, "view", resp.Type)
		cur := resp.View.Current
		if cur != nil && len(cur.Messages) == 1 && cur.Messages[0].ID == "msg-1" {
			require.Equal(t, "chat-1", cur.ChatID)
			require.Equal(t, "hello", cur.Messages[0].Content)
			return
		}
	}
}

func TestViewRejectsMalformedFrames(t *testing.T) {
	s := newTestSession(t)
	conn, _, err := dialView(t, NewViewHandler(s, nil, zerolog.Nop()), nil)
	require.NoError(t, err)
	readResponse(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	resp := readResponse(t, conn)
	require.Equal(t, "error", resp.Type)
	require.Contains(t, resp.Text, "Invalid message format")

	require.NoError(t, conn.WriteJSON(WSIncoming{Type: "bogus"}))
	resp = readResponse(t, conn)
	require.Equal(t, "error", resp.Type)
}

func TestViewReturnsDraftOnFailedSend(t *testing.T) {
	s := newTestSession(t)
	conn, _, err := dialView(t, NewViewHandler(s, nil, zerolog.Nop()), nil)
	require.NoError(t, err)
	readResponse(t, conn)

	// No agent and no current chat: nothing to send to.
	require.NoError(t, conn.WriteJSON(WSIncoming{Text: "keep me"}))
	for {
		resp := readResponse(t, conn)
		if resp.Type == "error" {
			require.Equal(t, "keep me", resp.Draft)
			return
		}
	}
}

func TestViewChecksOrigin(t *testing.T) {
	s := newTestSession(t)
	h := NewViewHandler(s, []string{"http://allowed.example"}, zerolog.Nop())

	_, resp, err := dialView(t, h, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dialView(t, h, http.Header{"Origin": {"http://allowed.example"}})
	require.NoError(t, err)
	require.Equal(t, "view", readResponse(t, conn).Type)
}

func TestViewUnavailableWhenSignedOut(t *testing.T) {
	_, resp, err := dialView(t, NewViewHandler(&testSession{}, nil, zerolog.Nop()), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"guru-chat/reconciler"
	"guru-chat/session"
	"guru-chat/transport"
)

// Session exposes the parts of a signed-in client the handlers use. Accessors return
// nil while signed out.
type Session interface {
	Store() *session.Store
	Connection() *transport.Connection
	Reconciler() *reconciler.Reconciler
}

// WSIncoming is a frame sent by a local UI. An empty Type sends Text as a message.
type WSIncoming struct {
	Type    string `json:"type,omitempty"`
	Text    string `json:"text"`
	AgentID string `json:"agentId,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

// WSResponse is pushed to a local UI.
type WSResponse struct {
	Type  string        `json:"type"`
	View  *session.View `json:"view,omitempty"`
	Text  string        `json:"text,omitempty"`
	Draft string        `json:"draft,omitempty"`
}

const (
	incomingMessage = ""
	incomingTyping  = "typing"
	incomingStop    = "stop_typing"
)

// ViewHandler streams store views to a local websocket and turns incoming frames into
// sends and typing notifications.
type ViewHandler struct {
	session        Session
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
}

func NewViewHandler(s Session, allowedOrigins []string, logger zerolog.Logger) *ViewHandler {
	origins := make(map[string]bool)
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	h := &ViewHandler{
		session:        s,
		allowedOrigins: origins,
		logger:         logger.With().Str("component", "view_ws").Logger(),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *ViewHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return h.allowedOrigins[origin]
}

func (h *ViewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	store := h.session.Store()
	if store == nil {
		http.Error(w, "not signed in", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	write := func(resp WSResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(resp)
	}

	// Forward views until the store closes or the socket fails.
	go func() {
		for v := range store.Watch(ctx) {
			if err := write(WSResponse{Type: "view", View: &v}); err != nil {
				h.logger.Debug().Err(err).Msg("failed to write view")
				cancel()
				return
			}
		}
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		var incoming WSIncoming
		if err := json.Unmarshal(message, &incoming); err != nil {
			_ = write(WSResponse{
				Type: "error",
				Text: "Invalid message format. Send JSON with a 'text' field.",
			})
			continue
		}

		switch incoming.Type {
		case incomingTyping, incomingStop:
			h.typing(store, incoming)
		case incomingMessage:
			if incoming.Text == "" {
				continue
			}
			if _, err := store.SendMessage(ctx, incoming.Text, incoming.AgentID, incoming.ChatID); err != nil {
				resp := WSResponse{Type: "error", Text: err.Error()}
				var sendErr *session.SendError
				if errors.As(err, &sendErr) {
					resp.Draft = sendErr.Draft
				}
				_ = write(resp)
			}
		default:
			_ = write(WSResponse{Type: "error", Text: "Unknown frame type " + incoming.Type})
		}
	}
}

func (h *ViewHandler) typing(store *session.Store, in WSIncoming) {
	rec := h.session.Reconciler()
	if rec == nil {
		return
	}
	chatID := in.ChatID
	if chatID == "" {
		chatID = store.CurrentChatID()
	}
	if chatID == "" {
		return
	}
	if in.Type == incomingStop {
		rec.StopTyping(chatID)
		return
	}
	rec.NotifyTyping(chatID, in.AgentID)
}

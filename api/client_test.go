package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"guru-chat/models"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

type callLog struct {
	mu    sync.Mutex
	calls []recorded
}

func (l *callLog) all() []recorded {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recorded(nil), l.calls...)
}

func (l *callLog) get(i int) recorded {
	return l.all()[i]
}

func newTestClient(t *testing.T, token string, h func(w http.ResponseWriter, r *http.Request)) (*Client, *callLog) {
	t.Helper()
	log := &callLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		log.mu.Lock()
		log.calls = append(log.calls, rec)
		log.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, func() string { return token }, zerolog.Nop()), log
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListChatsAttachesBearerToken(t *testing.T) {
	c, calls := newTestClient(t, "tok-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": []map[string]any{
				{"id": "chat-1", "agentId": "therapist", "title": "First", "messageCount": 2},
			},
		})
	})

	chats, err := c.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, "chat-1", chats[0].ID)
	require.Equal(t, 2, chats[0].MessageCount)

	require.Equal(t, "Bearer tok-1", calls.get(0).auth)
	require.Equal(t, "/chats", calls.get(0).path)
}

func TestNoTokenSendsNoAuthHeader(t *testing.T) {
	c, calls := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	chats, err := c.ListChats(context.Background())
	require.NoError(t, err)
	require.Empty(t, chats)
	require.Empty(t, calls.get(0).auth)
}

func TestErrorMessageFromBody(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "chat belongs to another user"})
	})

	err := c.DeleteChat(context.Background(), "chat-9")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.Status)
	require.Equal(t, "chat belongs to another user", apiErr.Message)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestErrorMessageFallsBackToStatus(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := c.CreateChat(context.Background(), "therapist")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.Status)
	require.Equal(t, "HTTP error! status: 502", apiErr.Message)
}

func TestNotFound(t *testing.T) {
	t.Run("status 404", func(t *testing.T) {
		c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "no such chat"})
		})
		_, err := c.GetChat(context.Background(), "gone")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty payload", func(t *testing.T) {
		c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		})
		_, err := c.GetChat(context.Background(), "gone")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUnsuccessfulEnvelopeIsAnError(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "rate limited"})
	})

	err := c.UpdateChatTitle(context.Background(), "chat-1", "Renamed")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "rate limited", apiErr.Message)
}

func TestGetChatReturnsHistory(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c, calls := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"messages": []map[string]any{
					{"id": "m1", "chatId": "chat-42", "content": "hi", "role": "assistant", "timestamp": ts},
				},
			},
		})
	})

	s, err := c.GetChat(context.Background(), "chat-42")
	require.NoError(t, err)
	require.Equal(t, "chat-42", s.ChatID)
	require.Len(t, s.Messages, 1)
	require.Equal(t, models.RoleAssistant, s.Messages[0].Role)
	require.Equal(t, models.Confirmed, s.Messages[0].State)
	require.True(t, ts.Equal(s.Messages[0].Timestamp))
	require.Equal(t, "/chats/chat-42", calls.get(0).path)
}

func TestRequestShapes(t *testing.T) {
	c, calls := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/chats":
			writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": map[string]any{"id": "chat-42", "agentId": "therapist"}})
		case r.Method == http.MethodPost && r.URL.Path == "/chats/chat-42/messages":
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"id": "msg-1", "content": "Hello", "role": "user"}})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		}
	})
	ctx := context.Background()

	chat, err := c.CreateChat(ctx, "therapist")
	require.NoError(t, err)
	require.Equal(t, "chat-42", chat.ID)

	msg, err := c.SendMessage(ctx, "chat-42", "Hello", "therapist")
	require.NoError(t, err)
	require.Equal(t, "msg-1", msg.ID)

	require.NoError(t, c.UpdateChatTitle(ctx, "chat-42", "Evening talk"))
	require.NoError(t, c.MarkAsRead(ctx, "chat-42", []string{"a1", "a2"}))
	require.NoError(t, c.DeleteChat(ctx, "chat-42"))

	got := calls.all()
	require.Len(t, got, 5)
	require.Equal(t, map[string]any{"agentId": "therapist"}, got[0].body)
	require.Equal(t, map[string]any{"content": "Hello", "agentId": "therapist"}, got[1].body)
	require.Equal(t, http.MethodPatch, got[2].method)
	require.Equal(t, map[string]any{"title": "Evening talk"}, got[2].body)
	require.Equal(t, "/chats/chat-42/messages/read", got[3].path)
	require.Equal(t, map[string]any{"messageIds": []any{"a1", "a2"}}, got[3].body)
	require.Equal(t, http.MethodDelete, got[4].method)
}

func TestGetMessagesDefaultsAndPaging(t *testing.T) {
	c, calls := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"messages": []map[string]any{{"id": "m9"}},
				"hasMore":  true,
				"total":    120,
			},
		})
	})

	page, err := c.GetMessages(context.Background(), "chat-1", 0, 0)
	require.NoError(t, err)
	require.True(t, page.HasMore)
	require.Equal(t, 120, page.Total)
	require.Equal(t, "limit=50&page=1", calls.get(0).query)

	_, err = c.GetMessages(context.Background(), "chat-1", 3, 20)
	require.NoError(t, err)
	require.Equal(t, "limit=20&page=3", calls.get(1).query)
}

func TestPollMessages(t *testing.T) {
	c, calls := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    []map[string]any{{"id": "m3", "role": "assistant"}},
		})
	})

	msgs, err := c.PollMessages(context.Background(), "chat-1", "m2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "/chats/chat-1/messages/poll", calls.get(0).path)
	require.Equal(t, "lastMessageId=m2", calls.get(0).query)

	_, err = c.PollMessages(context.Background(), "chat-1", "")
	require.NoError(t, err)
	require.Empty(t, calls.get(1).query)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"guru-chat/metrics"
	"guru-chat/models"
)

const (
	defaultPage  = 1
	defaultLimit = 50
)

// TokenSource returns the current bearer token, or "" when signed out.
type TokenSource func() string

// Client is the REST gateway to the chat API. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
	logger  zerolog.Logger
}

func New(baseURL string, token TokenSource, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		token:   token,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// envelope is the {success, data, error} wrapper every endpoint responds with.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data"`
	Error   string `json:"error,omitempty"`
}

// failure reports the error of a response that arrived with a 2xx status but success=false.
func (e *envelope[T]) failure() string {
	if e.Success || e.Error == "" {
		return ""
	}
	return e.Error
}

// MessagePage is one page of chat history, newest page first.
type MessagePage struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
	Total    int              `json:"total"`
}

func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	var resp envelope[[]models.Chat]
	if err := c.do(ctx, http.MethodGet, "/chats", "/chats", nil, &resp); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	if resp.Data == nil {
		return []models.Chat{}, nil
	}
	return *resp.Data, nil
}

// GetChat returns the chat's full session including message history.
func (c *Client) GetChat(ctx context.Context, chatID string) (models.ChatSession, error) {
	var resp envelope[models.ChatSession]
	if err := c.do(ctx, http.MethodGet, "/chats/:id", "/chats/"+url.PathEscape(chatID), nil, &resp); err != nil {
		return models.ChatSession{}, fmt.Errorf("get chat %s: %w", chatID, err)
	}
	if resp.Data == nil {
		return models.ChatSession{}, fmt.Errorf("get chat %s: %w", chatID, ErrNotFound)
	}
	s := *resp.Data
	if s.ChatID == "" {
		s.ChatID = chatID
	}
	return s, nil
}

func (c *Client) CreateChat(ctx context.Context, agentID string) (models.Chat, error) {
	var resp envelope[models.Chat]
	body := map[string]string{"agentId": agentID}
	if err := c.do(ctx, http.MethodPost, "/chats", "/chats", body, &resp); err != nil {
		return models.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	if resp.Data == nil || resp.Data.ID == "" {
		return models.Chat{}, fmt.Errorf("create chat: empty response")
	}
	return *resp.Data, nil
}

func (c *Client) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	var resp envelope[json.RawMessage]
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPatch, "/chats/:id", "/chats/"+url.PathEscape(chatID), body, &resp); err != nil {
		return fmt.Errorf("update chat %s: %w", chatID, err)
	}
	return nil
}

func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	var resp envelope[json.RawMessage]
	if err := c.do(ctx, http.MethodDelete, "/chats/:id", "/chats/"+url.PathEscape(chatID), nil, &resp); err != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	return nil
}

// GetMessages fetches one page of history. Zero page or limit use the API defaults.
func (c *Client) GetMessages(ctx context.Context, chatID string, page, limit int) (MessagePage, error) {
	if page <= 0 {
		page = defaultPage
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var resp envelope[MessagePage]
	path := "/chats/" + url.PathEscape(chatID) + "/messages?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, "/chats/:id/messages", path, nil, &resp); err != nil {
		return MessagePage{}, fmt.Errorf("get messages %s: %w", chatID, err)
	}
	if resp.Data == nil {
		return MessagePage{Messages: []models.Message{}}, nil
	}
	return *resp.Data, nil
}

// PollMessages returns messages newer than lastMessageID, or all when it is empty.
func (c *Client) PollMessages(ctx context.Context, chatID, lastMessageID string) ([]models.Message, error) {
	path := "/chats/" + url.PathEscape(chatID) + "/messages/poll"
	if lastMessageID != "" {
		path += "?" + url.Values{"lastMessageId": {lastMessageID}}.Encode()
	}

	var resp envelope[[]models.Message]
	if err := c.do(ctx, http.MethodGet, "/chats/:id/messages/poll", path, nil, &resp); err != nil {
		return nil, fmt.Errorf("poll messages %s: %w", chatID, err)
	}
	if resp.Data == nil {
		return nil, nil
	}
	return *resp.Data, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID, content, agentID string) (models.Message, error) {
	var resp envelope[models.Message]
	body := map[string]string{"content": content, "agentId": agentID}
	path := "/chats/" + url.PathEscape(chatID) + "/messages"
	if err := c.do(ctx, http.MethodPost, "/chats/:id/messages", path, body, &resp); err != nil {
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}
	if resp.Data == nil || resp.Data.ID == "" {
		return models.Message{}, fmt.Errorf("send message: empty response")
	}
	return *resp.Data, nil
}

func (c *Client) MarkAsRead(ctx context.Context, chatID string, messageIDs []string) error {
	var resp envelope[json.RawMessage]
	body := map[string][]string{"messageIds": messageIDs}
	path := "/chats/" + url.PathEscape(chatID) + "/messages/read"
	if err := c.do(ctx, http.MethodPost, "/chats/:id/messages/read", path, body, &resp); err != nil {
		return fmt.Errorf("mark read %s: %w", chatID, err)
	}
	return nil
}

// do performs one request. route is the path template used as the metrics label.
func (c *Client) do(ctx context.Context, method, route, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RESTRequestDuration.WithLabelValues(method, route, "error").Observe(time.Since(start).Seconds())
		return err
	}
	defer resp.Body.Close()
	metrics.RESTRequestDuration.WithLabelValues(method, route, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(respBody, &eb)
		c.logger.Debug().Str("method", method).Str("route", route).Int("status", resp.StatusCode).Msg("request failed")
		return newError(resp.StatusCode, eb)
	}

	if len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if f, ok := out.(interface{ failure() string }); ok {
		if msg := f.failure(); msg != "" {
			return &Error{Status: resp.StatusCode, Message: msg}
		}
	}
	return nil
}

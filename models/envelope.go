package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a realtime frame.
type EventType string

const (
	EventMessage     EventType = "message"
	EventTyping      EventType = "typing"
	EventReadReceipt EventType = "read_receipt"
	EventChatUpdate  EventType = "chat_update"
	EventError       EventType = "error"
	EventDisconnect  EventType = "disconnect"
	EventPing        EventType = "ping"
	EventPong        EventType = "pong"
)

// Room actions carried by outbound chat_update frames.
const (
	ActionJoin  = "join"
	ActionLeave = "leave"
)

// Frame is the JSON envelope exchanged over the realtime socket in both directions.
type Frame struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	MessageID string          `json:"messageId,omitempty"`
}

// NewFrame marshals data into a frame stamped with the current time.
func NewFrame(t EventType, data any, messageID string) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s frame: %w", t, err)
	}
	return Frame{
		Type:      t,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
		MessageID: messageID,
	}, nil
}

type MessageData struct {
	ChatID    string   `json:"chatId"`
	Content   string   `json:"content"`
	AgentID   string   `json:"agentId"`
	MessageID string   `json:"messageId,omitempty"`
	Message   *Message `json:"message,omitempty"`
}

type TypingData struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	AgentID  string `json:"agentId"`
	IsTyping bool   `json:"isTyping"`
}

type ReadReceiptData struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}

// ChatUpdates is a partial Chat; nil fields are left untouched when merged.
type ChatUpdates struct {
	Title        *string    `json:"title,omitempty"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
	MessageCount *int       `json:"messageCount,omitempty"`
	LastMessage  *string    `json:"lastMessage,omitempty"`
}

// ChatUpdateData is sent with an Action to join or leave a room and received with Updates.
type ChatUpdateData struct {
	ChatID  string       `json:"chatId"`
	Action  string       `json:"action,omitempty"`
	Updates *ChatUpdates `json:"updates,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

type PingData struct {
	Timestamp int64 `json:"timestamp"`
}

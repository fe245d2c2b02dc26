package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DeliveryState tells whether a message is a local optimistic copy or the server's.
type DeliveryState int

const (
	Confirmed DeliveryState = iota
	Provisional
)

func (s DeliveryState) String() string {
	if s == Provisional {
		return "provisional"
	}
	return "confirmed"
}

type MessageMetadata struct {
	Read          *bool    `json:"read,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	MessageIndex  *int     `json:"messageIndex,omitempty"`
	TotalMessages *int     `json:"totalMessages,omitempty"`
}

type Message struct {
	ID        string           `json:"id"`
	ChatID    string           `json:"chatId"`
	UserID    string           `json:"userId"`
	AgentID   string           `json:"agentId"`
	Content   string           `json:"content"`
	Role      Role             `json:"role"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`

	// State and CorrelationID never travel over the wire. A provisional message is
	// matched to its confirmation only through CorrelationID.
	State         DeliveryState `json:"-"`
	CorrelationID string        `json:"-"`
}

// IsRead reports whether the read flag is set.
func (m Message) IsRead() bool {
	return m.Metadata != nil && m.Metadata.Read != nil && *m.Metadata.Read
}

// MarkRead returns a copy of m with the read flag set.
func (m Message) MarkRead() Message {
	meta := MessageMetadata{}
	if m.Metadata != nil {
		meta = *m.Metadata
	}
	read := true
	meta.Read = &read
	m.Metadata = &meta
	return m
}

type Chat struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	AgentID      string    `json:"agentId"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	LastMessage  string    `json:"lastMessage,omitempty"`
}

// Apply merges the non-nil fields of u into c.
func (c Chat) Apply(u ChatUpdates) Chat {
	if u.Title != nil {
		c.Title = *u.Title
	}
	if u.UpdatedAt != nil {
		c.UpdatedAt = *u.UpdatedAt
	}
	if u.MessageCount != nil {
		c.MessageCount = *u.MessageCount
	}
	if u.LastMessage != nil {
		c.LastMessage = *u.LastMessage
	}
	return c
}

// ChatSession is the live working set of the one open chat.
type ChatSession struct {
	ChatID         string    `json:"chatId"`
	AgentID        string    `json:"agentId,omitempty"`
	Title          string    `json:"title,omitempty"`
	Messages       []Message `json:"messages"`
	IsLoading      bool      `json:"isLoading"`
	HasNewMessages bool      `json:"hasNewMessages"`
	PollCount      int       `json:"pollCount"`
	IsTyping       bool      `json:"isTyping"`
}

// Clone returns a deep enough copy for handing out of the store.
func (s ChatSession) Clone() ChatSession {
	s.Messages = append([]Message(nil), s.Messages...)
	return s
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

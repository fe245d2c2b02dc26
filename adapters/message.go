package adapters

import (
	"time"

	"github.com/google/uuid"

	"guru-chat/models"
)

// NewProvisionalMessage builds the optimistic copy of a message the user is sending.
// The correlation id doubles as the outbound frame's messageId.
func NewProvisionalMessage(chatID, userID, agentID, content string) models.Message {
	correlationID := uuid.New().String()
	return models.Message{
		ID:            correlationID,
		ChatID:        chatID,
		UserID:        userID,
		AgentID:       agentID,
		Content:       content,
		Role:          models.RoleUser,
		Timestamp:     time.Now().UTC(),
		State:         models.Provisional,
		CorrelationID: correlationID,
	}
}

// OutboundMessage converts a provisional message into the payload of a message frame.
func OutboundMessage(msg models.Message) models.MessageData {
	return models.MessageData{
		ChatID:    msg.ChatID,
		Content:   msg.Content,
		AgentID:   msg.AgentID,
		MessageID: msg.CorrelationID,
	}
}

// NormalizeInboundMessage extracts the confirmed message carried by a message event.
// Events without a message body report false.
func NormalizeInboundMessage(ev models.MessageEvent) (models.Message, bool) {
	if ev.Data.Message == nil || ev.Data.Message.ID == "" {
		return models.Message{}, false
	}
	msg := *ev.Data.Message
	if msg.ChatID == "" {
		msg.ChatID = ev.Data.ChatID
	}
	if msg.Timestamp.IsZero() {
		if ev.Timestamp > 0 {
			msg.Timestamp = time.UnixMilli(ev.Timestamp).UTC()
		} else {
			msg.Timestamp = time.Now().UTC()
		}
	}
	if msg.Role == "" {
		msg.Role = models.RoleAssistant
	}
	msg.State = models.Confirmed
	msg.CorrelationID = ev.CorrelationID()
	return msg, true
}

// Confirm marks a message returned by the REST gateway as the confirmation of provisional.
func Confirm(provisional, server models.Message) models.Message {
	if server.ChatID == "" {
		server.ChatID = provisional.ChatID
	}
	if server.Content == "" {
		server.Content = provisional.Content
	}
	if server.Timestamp.IsZero() {
		server.Timestamp = provisional.Timestamp
	}
	if server.Role == "" {
		server.Role = provisional.Role
	}
	server.State = models.Confirmed
	server.CorrelationID = provisional.CorrelationID
	return server
}

// UnreadAssistantIDs lists assistant messages that have not been marked read.
func UnreadAssistantIDs(msgs []models.Message) []string {
	var ids []string
	for _, m := range msgs {
		if m.Role == models.RoleAssistant && m.State == models.Confirmed && !m.IsRead() {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

package transport

import (
	"guru-chat/models"
)

// SendFrame builds a frame for data and sends or queues it.
func (c *Connection) SendFrame(t models.EventType, data any, messageID string) (bool, error) {
	f, err := models.NewFrame(t, data, messageID)
	if err != nil {
		return false, err
	}
	return c.Send(f), nil
}

func (c *Connection) JoinChat(chatID string) (bool, error) {
	return c.SendFrame(models.EventChatUpdate, models.ChatUpdateData{ChatID: chatID, Action: models.ActionJoin}, "")
}

func (c *Connection) LeaveChat(chatID string) (bool, error) {
	return c.SendFrame(models.EventChatUpdate, models.ChatUpdateData{ChatID: chatID, Action: models.ActionLeave}, "")
}

// SendMessage sends a chat message. The frame's messageId is the provisional message's
// correlation id, echoed back by the server on confirmation.
func (c *Connection) SendMessage(data models.MessageData) (bool, error) {
	return c.SendFrame(models.EventMessage, data, data.MessageID)
}

func (c *Connection) SendTyping(data models.TypingData) (bool, error) {
	return c.SendFrame(models.EventTyping, data, "")
}

func (c *Connection) SendReadReceipt(data models.ReadReceiptData) (bool, error) {
	return c.SendFrame(models.EventReadReceipt, data, "")
}

package session

import (
	"guru-chat/models"
)

// ApplyMessage merges a confirmed message from the server. Messages for chats other
// than the current one only update the chat list; messages for deleted chats are
// ignored. It reports whether the current session changed.
func (s *Store) ApplyMessage(msg models.Message) bool {
	changed := false
	_ = s.do(func(st *state) { changed = st.applyMessage(msg) })
	return changed
}

// ApplyPolled merges messages fetched by the fallback poller and counts the poll.
func (s *Store) ApplyPolled(chatID string, msgs []models.Message) int {
	added := 0
	_ = s.do(func(st *state) {
		if !st.isCurrent(chatID) {
			return
		}
		before := len(st.current.Messages)
		for _, m := range msgs {
			if m.ChatID == "" {
				m.ChatID = chatID
			}
			st.applyMessage(m)
		}
		added = len(st.current.Messages) - before
		st.current.PollCount++
	})
	return added
}

// SetTyping sets the assistant typing flag of chatID if it is the current chat.
func (s *Store) SetTyping(chatID string, typing bool) bool {
	changed := false
	_ = s.do(func(st *state) {
		if !st.isCurrent(chatID) || st.current.IsTyping == typing {
			return
		}
		st.current.IsTyping = typing
		changed = true
	})
	return changed
}

// ApplyReadReceipt marks messages of the current chat as read. Applying the same
// receipt again changes nothing.
func (s *Store) ApplyReadReceipt(chatID string, messageIDs []string) int {
	n := 0
	_ = s.do(func(st *state) { n = st.markRead(chatID, messageIDs) })
	return n
}

// ApplyChatUpdate merges a partial chat pushed by the server.
func (s *Store) ApplyChatUpdate(chatID string, u models.ChatUpdates) bool {
	changed := false
	_ = s.do(func(st *state) {
		if st.deleted[chatID] {
			return
		}
		if i := st.chatIndex(chatID); i >= 0 {
			st.chats[i] = st.chats[i].Apply(u)
			changed = true
		}
		if st.isCurrent(chatID) && u.Title != nil {
			st.current.Title = *u.Title
			changed = true
		}
	})
	return changed
}

// FailProvisional removes the unconfirmed realtime send correlationID, records err and
// returns the content through View.Drafts. It reports false when no such send is
// outstanding, for example because it was already confirmed.
func (s *Store) FailProvisional(correlationID string, err error) bool {
	if correlationID == "" {
		return false
	}
	found := false
	_ = s.do(func(st *state) { found = st.failProvisional(correlationID, err) })
	return found
}

package session

import (
	"time"

	"guru-chat/metrics"
	"guru-chat/models"
)

type state struct {
	chats   []models.Chat
	current *models.ChatSession

	// generation changes whenever the current session is replaced. Results of network
	// calls carry the generation they started under and are dropped on mismatch.
	generation uint64
	nextPage   int
	hasOlder   bool

	// deleted holds tombstones so late events for a removed chat are ignored.
	deleted map[string]bool
	// counted holds chatID/messageID keys already reflected in the chat list counters.
	counted map[string]bool
	// pending holds realtime sends not yet confirmed, by correlation id.
	pending map[string]models.Message

	err    string
	drafts []Draft
}

func newState() state {
	return state{
		deleted: make(map[string]bool),
		counted: make(map[string]bool),
		pending: make(map[string]models.Message),
	}
}

func (st *state) currentID() string {
	if st.current == nil {
		return ""
	}
	return st.current.ChatID
}

func (st *state) isCurrent(chatID string) bool {
	return st.current != nil && st.current.ChatID == chatID
}

func (st *state) chatIndex(chatID string) int {
	for i := range st.chats {
		if st.chats[i].ID == chatID {
			return i
		}
	}
	return -1
}

func (st *state) switchTo(sess models.ChatSession) {
	if sess.Messages == nil {
		sess.Messages = []models.Message{}
	}
	st.generation++
	st.current = &sess
	st.nextPage = 2
	st.hasOlder = true
	for _, m := range sess.Messages {
		if m.State == models.Confirmed {
			st.counted[countKey(sess.ChatID, m.ID)] = true
		}
	}
}

func (st *state) clearCurrent() {
	st.generation++
	st.current = nil
}

func (st *state) view() View {
	v := View{
		Chats: append([]models.Chat(nil), st.chats...),
		Error: st.err,
	}
	if len(st.drafts) > 0 {
		v.Drafts = append([]Draft(nil), st.drafts...)
	}
	if st.current != nil {
		sess := st.current.Clone()
		v.Current = &sess
	}
	return v
}

func countKey(chatID, messageID string) string {
	return chatID + "/" + messageID
}

// applyMessage merges a confirmed message. A message carrying the correlation id of a
// provisional entry takes that entry's slot; a message whose id is already present
// replaces it; anything else is appended. It reports whether the session changed.
func (st *state) applyMessage(msg models.Message) bool {
	if msg.ChatID == "" || msg.ID == "" || st.deleted[msg.ChatID] {
		return false
	}
	msg.State = models.Confirmed
	if msg.CorrelationID != "" {
		delete(st.pending, msg.CorrelationID)
	}

	key := countKey(msg.ChatID, msg.ID)
	if !st.counted[key] {
		st.counted[key] = true
		if i := st.chatIndex(msg.ChatID); i >= 0 {
			c := &st.chats[i]
			c.MessageCount++
			c.LastMessage = msg.Content
			if msg.Timestamp.After(c.UpdatedAt) {
				c.UpdatedAt = msg.Timestamp
			}
		}
	}

	if !st.isCurrent(msg.ChatID) {
		return false
	}
	sess := st.current

	if msg.CorrelationID != "" {
		for i := range sess.Messages {
			m := sess.Messages[i]
			if m.State == models.Provisional && m.CorrelationID == msg.CorrelationID {
				sess.Messages[i] = msg
				sess.Messages = dropDuplicates(sess.Messages, i)
				metrics.MessagesConfirmed.Inc()
				return true
			}
		}
	}

	for i := range sess.Messages {
		m := sess.Messages[i]
		if m.State == models.Confirmed && m.ID == msg.ID {
			if m.IsRead() && !msg.IsRead() {
				msg = msg.MarkRead()
			}
			if msg.CorrelationID == "" {
				msg.CorrelationID = m.CorrelationID
			}
			sess.Messages[i] = msg
			return true
		}
	}

	sess.Messages = append(sess.Messages, msg)
	if msg.Role == models.RoleAssistant {
		sess.HasNewMessages = true
		sess.IsTyping = false
	}
	return true
}

// dropDuplicates removes confirmed copies of msgs[keep] other than the one at keep.
func dropDuplicates(msgs []models.Message, keep int) []models.Message {
	id := msgs[keep].ID
	out := msgs[:0]
	for i, m := range msgs {
		if i != keep && m.State == models.Confirmed && m.ID == id {
			continue
		}
		out = append(out, m)
	}
	return out
}

// markRead flags the listed messages of the current session as read and returns how
// many changed.
func (st *state) markRead(chatID string, ids []string) int {
	if !st.isCurrent(chatID) || len(ids) == 0 {
		return 0
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	changed := 0
	for i, m := range st.current.Messages {
		if want[m.ID] && m.State == models.Confirmed && !m.IsRead() {
			st.current.Messages[i] = m.MarkRead()
			changed++
		}
	}
	return changed
}

func (st *state) removeProvisional(chatID, correlationID string) bool {
	if !st.isCurrent(chatID) {
		return false
	}
	msgs := st.current.Messages
	for i, m := range msgs {
		if m.State == models.Provisional && m.CorrelationID == correlationID {
			st.current.Messages = append(msgs[:i:i], msgs[i+1:]...)
			return true
		}
	}
	return false
}

// failProvisional drops the outstanding send correlationID and keeps its content as a
// draft. The chat need not be current.
func (st *state) failProvisional(correlationID string, err error) bool {
	msg, ok := st.pending[correlationID]
	if !ok {
		return false
	}
	delete(st.pending, correlationID)
	st.removeProvisional(msg.ChatID, correlationID)
	st.drafts = append(st.drafts, Draft{ChatID: msg.ChatID, Content: msg.Content})
	if err != nil {
		st.err = err.Error()
	}
	return true
}

// mergeHistory returns remote followed by the local messages it cannot contain yet:
// provisional sends and confirmed messages newer than anything remote.
func mergeHistory(remote, local []models.Message) []models.Message {
	out := make([]models.Message, 0, len(remote)+len(local))
	ids := make(map[string]bool, len(remote))
	var newest time.Time
	for _, m := range remote {
		m.State = models.Confirmed
		ids[m.ID] = true
		if m.Timestamp.After(newest) {
			newest = m.Timestamp
		}
		out = append(out, m)
	}
	for _, m := range local {
		switch {
		case m.State == models.Provisional:
			out = append(out, m)
		case !ids[m.ID] && m.Timestamp.After(newest):
			out = append(out, m)
		}
	}
	return out
}

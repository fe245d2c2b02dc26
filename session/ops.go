package session

import (
	"context"
	"errors"
	"fmt"

	"guru-chat/adapters"
	"guru-chat/models"
)

const olderPageSize = 50

// LoadChats refreshes the chat list. On failure the existing list is kept, or filled
// from the cache when empty, and the error is returned for display.
func (s *Store) LoadChats(ctx context.Context) ([]models.Chat, error) {
	user, ok := s.users.CurrentUser()
	if !ok {
		return nil, ErrUnauthenticated
	}

	chats, err := s.api.ListChats(ctx)
	if err != nil {
		var cached []models.Chat
		if s.cache != nil {
			if cached, _ = s.cache.LoadChats(ctx, user.ID); len(cached) > 0 {
				s.logger.Info().Int("chats", len(cached)).Msg("using cached chat list")
			}
		}
		var kept []models.Chat
		_ = s.do(func(st *state) {
			if len(st.chats) == 0 && len(cached) > 0 {
				st.chats = cached
			}
			st.err = err.Error()
			kept = append(kept, st.chats...)
		})
		return kept, err
	}

	var out []models.Chat
	if err := s.do(func(st *state) {
		st.chats = st.chats[:0]
		for _, c := range chats {
			if !st.deleted[c.ID] {
				st.chats = append(st.chats, c)
			}
		}
		st.err = ""
		out = append(out, st.chats...)
	}); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SaveChats(ctx, user.ID, out); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache chat list")
		}
	}
	return out, nil
}

// CreateNewChat creates a chat for agentID and makes it current. Concurrent calls for
// the same agent share one creation.
func (s *Store) CreateNewChat(ctx context.Context, agentID string) (string, error) {
	id, err := s.createChat(ctx, agentID)
	if err != nil {
		s.SetError(err)
		return "", err
	}
	return id, nil
}

func (s *Store) createChat(ctx context.Context, agentID string) (string, error) {
	if agentID == "" {
		return "", errors.New("create chat: agent id is required")
	}
	v, err, _ := s.creating.Do(agentID, func() (any, error) {
		chat, err := s.api.CreateChat(ctx, agentID)
		if err != nil {
			return "", err
		}
		if chat.AgentID == "" {
			chat.AgentID = agentID
		}

		var prev string
		if err := s.do(func(st *state) {
			prev = st.currentID()
			if i := st.chatIndex(chat.ID); i >= 0 {
				st.chats = append(st.chats[:i], st.chats[i+1:]...)
			}
			st.chats = append([]models.Chat{chat}, st.chats...)
			st.switchTo(models.ChatSession{ChatID: chat.ID, AgentID: chat.AgentID, Title: chat.Title})
			st.err = ""
		}); err != nil {
			return "", err
		}

		if prev != "" && prev != chat.ID {
			s.delivery.LeaveRoom(prev)
		}
		s.delivery.JoinRoom(chat.ID)
		s.logger.Info().Str("chat_id", chat.ID).Str("agent_id", agentID).Msg("chat created")
		return chat.ID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// LoadChat makes chatID current and replaces its history with the server's. Unread
// assistant messages are marked read with a single receipt. A load that finishes after
// the user has moved to another chat is discarded.
func (s *Store) LoadChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("load chat: empty id: %w", ErrNotFound)
	}

	var cached []models.Message
	if s.cache != nil {
		msgs, err := s.cache.LoadHistory(ctx, chatID)
		if err != nil {
			s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to read cached history")
		}
		cached = msgs
	}

	var gen uint64
	var prev string
	if err := s.do(func(st *state) {
		prev = st.currentID()
		if prev == chatID {
			st.current.IsLoading = true
			gen = st.generation
			return
		}
		sess := models.ChatSession{ChatID: chatID, Messages: cached, IsLoading: true}
		if i := st.chatIndex(chatID); i >= 0 {
			sess.AgentID = st.chats[i].AgentID
			sess.Title = st.chats[i].Title
		}
		st.switchTo(sess)
		gen = st.generation
	}); err != nil {
		return err
	}

	if prev != chatID {
		if prev != "" {
			s.delivery.LeaveRoom(prev)
		}
		s.delivery.JoinRoom(chatID)
	}

	remote, err := s.api.GetChat(ctx, chatID)
	if err != nil {
		_ = s.do(func(st *state) {
			if st.generation == gen && st.isCurrent(chatID) {
				st.current.IsLoading = false
			}
			st.err = err.Error()
		})
		return err
	}

	var unread []string
	var history []models.Message
	applied := false
	_ = s.do(func(st *state) {
		if st.generation != gen || !st.isCurrent(chatID) {
			return
		}
		applied = true
		sess := st.current
		sess.Messages = mergeHistory(remote.Messages, sess.Messages)
		sess.IsLoading = false
		sess.HasNewMessages = false
		if remote.AgentID != "" {
			sess.AgentID = remote.AgentID
		}
		if remote.Title != "" {
			sess.Title = remote.Title
		}
		for _, m := range sess.Messages {
			if m.State == models.Confirmed {
				st.counted[countKey(chatID, m.ID)] = true
			}
		}
		unread = adapters.UnreadAssistantIDs(sess.Messages)
		st.markRead(chatID, unread)
		st.err = ""
		history = append(history, sess.Messages...)
	})
	if !applied {
		s.logger.Debug().Str("chat_id", chatID).Msg("discarding stale chat load")
		return nil
	}

	if len(unread) > 0 {
		if err := s.delivery.MarkRead(ctx, chatID, unread); err != nil {
			s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to send read receipt")
			s.SetError(err)
		}
	}
	s.saveHistory(ctx, chatID, history)
	return nil
}

// SendMessage appends a provisional message and hands it to delivery. The target chat
// is chatID, else the current chat, else a new chat for agentID. On failure the
// provisional message is removed and a *SendError carrying the draft is returned.
func (s *Store) SendMessage(ctx context.Context, content, agentID, chatID string) (models.Message, error) {
	user, ok := s.users.CurrentUser()
	if !ok {
		return models.Message{}, &SendError{Draft: content, Err: ErrUnauthenticated}
	}

	var current models.ChatSession
	if err := s.do(func(st *state) {
		if st.current != nil {
			current = models.ChatSession{ChatID: st.current.ChatID, AgentID: st.current.AgentID}
		}
	}); err != nil {
		return models.Message{}, &SendError{Draft: content, Err: err}
	}

	target := chatID
	if target == "" {
		target = current.ChatID
	}
	if agentID == "" && target == current.ChatID {
		agentID = current.AgentID
	}
	if target == "" {
		id, err := s.createChat(ctx, agentID)
		if err != nil {
			s.SetError(err)
			return models.Message{}, &SendError{Draft: content, Err: err}
		}
		target = id
	}

	msg := adapters.NewProvisionalMessage(target, user.ID, agentID, content)
	_ = s.do(func(st *state) {
		if st.isCurrent(target) {
			st.current.Messages = append(st.current.Messages, msg)
		}
		st.pending[msg.CorrelationID] = msg
		st.err = ""
	})

	confirmed, err := s.delivery.Deliver(ctx, msg)
	if err != nil {
		_ = s.do(func(st *state) {
			delete(st.pending, msg.CorrelationID)
			st.removeProvisional(target, msg.CorrelationID)
			st.err = err.Error()
		})
		s.logger.Warn().Err(err).Str("chat_id", target).Msg("send failed, provisional message removed")
		return models.Message{}, &SendError{Draft: content, Err: err}
	}

	if confirmed != nil {
		final := adapters.Confirm(msg, *confirmed)
		s.ApplyMessage(final)
		return final, nil
	}
	return msg, nil
}

// UpdateChatTitle renames a chat optimistically and rolls back if the server refuses.
func (s *Store) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	var listTitle, sessTitle string
	inList, isCurrent := false, false
	_ = s.do(func(st *state) {
		if i := st.chatIndex(chatID); i >= 0 {
			inList = true
			listTitle = st.chats[i].Title
			st.chats[i].Title = title
		}
		if st.isCurrent(chatID) {
			isCurrent = true
			sessTitle = st.current.Title
			st.current.Title = title
		}
	})

	if err := s.api.UpdateChatTitle(ctx, chatID, title); err != nil {
		_ = s.do(func(st *state) {
			if i := st.chatIndex(chatID); inList && i >= 0 && st.chats[i].Title == title {
				st.chats[i].Title = listTitle
			}
			if isCurrent && st.isCurrent(chatID) && st.current.Title == title {
				st.current.Title = sessTitle
			}
			st.err = err.Error()
		})
		return err
	}
	return nil
}

// DeleteChat removes a chat optimistically. Deleting the current chat clears it and
// leaves its room; later events for the chat are ignored. A refused delete is rolled
// back.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	var removed *models.Chat
	var at int
	var wasCurrent *models.ChatSession
	_ = s.do(func(st *state) {
		st.deleted[chatID] = true
		for id, m := range st.pending {
			if m.ChatID == chatID {
				delete(st.pending, id)
			}
		}
		if i := st.chatIndex(chatID); i >= 0 {
			c := st.chats[i]
			removed, at = &c, i
			st.chats = append(st.chats[:i], st.chats[i+1:]...)
		}
		if st.isCurrent(chatID) {
			sess := st.current.Clone()
			wasCurrent = &sess
			st.clearCurrent()
		}
	})
	if wasCurrent != nil {
		s.delivery.LeaveRoom(chatID)
	}

	err := s.api.DeleteChat(ctx, chatID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		restored := false
		_ = s.do(func(st *state) {
			delete(st.deleted, chatID)
			if removed != nil && st.chatIndex(chatID) < 0 {
				if at > len(st.chats) {
					at = len(st.chats)
				}
				st.chats = append(st.chats[:at], append([]models.Chat{*removed}, st.chats[at:]...)...)
			}
			if wasCurrent != nil && st.current == nil {
				st.switchTo(*wasCurrent)
				restored = true
			}
			st.err = err.Error()
		})
		if restored {
			s.delivery.JoinRoom(chatID)
		}
		return err
	}

	if s.cache != nil {
		if err := s.cache.Forget(ctx, chatID); err != nil {
			s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to drop cached history")
		}
	}
	s.logger.Info().Str("chat_id", chatID).Msg("chat deleted")
	return nil
}

// LoadOlder prepends the next page of older history to the current session and returns
// how many messages were added.
func (s *Store) LoadOlder(ctx context.Context) (int, error) {
	var chatID string
	var gen uint64
	var page int
	more := false
	_ = s.do(func(st *state) {
		if st.current == nil {
			return
		}
		chatID, gen, page, more = st.current.ChatID, st.generation, st.nextPage, st.hasOlder
	})
	if chatID == "" {
		return 0, fmt.Errorf("load older: no open chat: %w", ErrNotFound)
	}
	if !more {
		return 0, nil
	}

	res, err := s.api.GetMessages(ctx, chatID, page, olderPageSize)
	if err != nil {
		s.SetError(err)
		return 0, err
	}

	added := 0
	_ = s.do(func(st *state) {
		if st.generation != gen || !st.isCurrent(chatID) {
			return
		}
		seen := make(map[string]bool, len(st.current.Messages))
		for _, m := range st.current.Messages {
			seen[m.ID] = true
		}
		var older []models.Message
		for _, m := range res.Messages {
			if seen[m.ID] {
				continue
			}
			m.State = models.Confirmed
			seen[m.ID] = true
			st.counted[countKey(chatID, m.ID)] = true
			older = append(older, m)
		}
		st.current.Messages = append(older, st.current.Messages...)
		st.nextPage = page + 1
		st.hasOlder = res.HasMore
		added = len(older)
	})
	return added, nil
}

func (s *Store) saveHistory(ctx context.Context, chatID string, msgs []models.Message) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SaveHistory(ctx, chatID, msgs); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to cache history")
	}
}

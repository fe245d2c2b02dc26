package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"guru-chat/api"
	"guru-chat/models"
)

// ChatAPI is the subset of the REST gateway the store calls.
type ChatAPI interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.ChatSession, error)
	CreateChat(ctx context.Context, agentID string) (models.Chat, error)
	UpdateChatTitle(ctx context.Context, chatID, title string) error
	DeleteChat(ctx context.Context, chatID string) error
	GetMessages(ctx context.Context, chatID string, page, limit int) (api.MessagePage, error)
}

// Delivery transmits what the store produces: user messages, room membership and read
// receipts.
type Delivery interface {
	// Deliver sends a provisional message. A non-nil result is the server's confirmed
	// copy, returned when delivery completed synchronously.
	Deliver(ctx context.Context, msg models.Message) (*models.Message, error)
	JoinRoom(chatID string)
	LeaveRoom(chatID string)
	MarkRead(ctx context.Context, chatID string, messageIDs []string) error
}

// UserSource reports the signed-in user.
type UserSource interface {
	CurrentUser() (models.User, bool)
}

// View is a point-in-time copy of everything a UI renders.
type View struct {
	Chats   []models.Chat       `json:"chats"`
	Current *models.ChatSession `json:"current,omitempty"`
	Error   string              `json:"error,omitempty"`
	Drafts  []Draft             `json:"drafts,omitempty"`
}

// Draft is the content of a realtime send the server rejected or that never left the
// outbound queue.
type Draft struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

func (v View) CurrentChatID() string {
	if v.Current == nil {
		return ""
	}
	return v.Current.ChatID
}

type operation struct {
	fn   func(*state)
	done chan struct{}
}

type watcher struct {
	ch chan View
}

// Store owns the chat list and the current chat session. All state lives on a single
// goroutine; network calls happen on the caller's goroutine and their results are
// applied only if the session they were started for is still current.
type Store struct {
	api      ChatAPI
	delivery Delivery
	users    UserSource
	cache    Cache
	logger   zerolog.Logger

	creating singleflight.Group

	ops       chan operation
	quit      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	// Owned by the run loop.
	st       state
	watchers map[*watcher]struct{}
}

// New starts the store's loop. cache may be nil.
func New(chatAPI ChatAPI, delivery Delivery, users UserSource, cache Cache, logger zerolog.Logger) *Store {
	s := &Store{
		api:      chatAPI,
		delivery: delivery,
		users:    users,
		cache:    cache,
		logger:   logger.With().Str("component", "session").Logger(),
		ops:      make(chan operation),
		quit:     make(chan struct{}),
		closed:   make(chan struct{}),
		st:       newState(),
		watchers: make(map[*watcher]struct{}),
	}
	go s.run()
	return s
}

func (s *Store) run() {
	defer close(s.closed)
	for {
		select {
		case op := <-s.ops:
			op.fn(&s.st)
			s.publish()
			close(op.done)
		case <-s.quit:
			for w := range s.watchers {
				close(w.ch)
			}
			s.watchers = nil
			return
		}
	}
}

// do runs fn on the store goroutine and waits for it. fn must not block or call back
// into the store.
func (s *Store) do(fn func(*state)) error {
	op := operation{fn: fn, done: make(chan struct{})}
	select {
	case s.ops <- op:
	case <-s.closed:
		return ErrClosed
	}
	<-op.done
	return nil
}

func (s *Store) publish() {
	if len(s.watchers) == 0 {
		return
	}
	v := s.st.view()
	for w := range s.watchers {
		select {
		case <-w.ch:
		default:
		}
		w.ch <- v
	}
}

// Close stops the loop. Pending and later calls fail with ErrClosed.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.closed
}

// Snapshot returns the current view.
func (s *Store) Snapshot() View {
	var v View
	_ = s.do(func(st *state) { v = st.view() })
	return v
}

func (s *Store) CurrentChatID() string {
	var id string
	_ = s.do(func(st *state) { id = st.currentID() })
	return id
}

// Current returns a copy of the open session.
func (s *Store) Current() (models.ChatSession, bool) {
	var sess models.ChatSession
	var ok bool
	_ = s.do(func(st *state) {
		if st.current != nil {
			sess, ok = st.current.Clone(), true
		}
	})
	return sess, ok
}

// Watch streams a view after every change, starting with the current one. Slow readers
// only see the latest view. The channel closes when ctx ends or the store closes.
func (s *Store) Watch(ctx context.Context) <-chan View {
	w := &watcher{ch: make(chan View, 1)}
	if err := s.do(func(st *state) {
		s.watchers[w] = struct{}{}
	}); err != nil {
		close(w.ch)
		return w.ch
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.closed:
			return
		}
		_ = s.do(func(*state) {
			delete(s.watchers, w)
			close(w.ch)
		})
	}()
	return w.ch
}

// SetError records a non-fatal error for display.
func (s *Store) SetError(err error) {
	if err == nil {
		return
	}
	_ = s.do(func(st *state) { st.err = err.Error() })
}

// ClearError dismisses the current error and any returned drafts.
func (s *Store) ClearError() {
	_ = s.do(func(st *state) {
		st.err = ""
		st.drafts = nil
	})
}

package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"guru-chat/api"
	"guru-chat/models"
)

type fakeAPI struct {
	mu sync.Mutex

	chats       []models.Chat
	sessions    map[string]models.ChatSession
	pages       map[int]api.MessagePage
	listErr     error
	deleteErr   error
	titleErr    error
	nextChatID  string
	createCalls int
	createGate  chan struct{}
	createSeen  chan struct{}
	getGates    map[string]chan struct{}
	pageCalls   []int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		sessions: make(map[string]models.ChatSession),
		pages:    make(map[int]api.MessagePage),
		getGates: make(map[string]chan struct{}),
	}
}

func (f *fakeAPI) ListChats(ctx context.Context) ([]models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Chat(nil), f.chats...), nil
}

func (f *fakeAPI) GetChat(ctx context.Context, chatID string) (models.ChatSession, error) {
	f.mu.Lock()
	gate := f.getGates[chatID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[chatID]
	if !ok {
		return models.ChatSession{}, &api.Error{Status: 404, Message: "chat not found"}
	}
	s.Messages = append([]models.Message(nil), s.Messages...)
	return s, nil
}

func (f *fakeAPI) CreateChat(ctx context.Context, agentID string) (models.Chat, error) {
	f.mu.Lock()
	f.createCalls++
	gate, seen := f.createGate, f.createSeen
	id := f.nextChatID
	f.mu.Unlock()

	if seen != nil {
		close(seen)
	}
	if gate != nil {
		<-gate
	}
	if id == "" {
		return models.Chat{}, &api.Error{Status: 500, Message: "no chat id configured"}
	}
	return models.Chat{ID: id, AgentID: agentID, Title: "New chat"}, nil
}

func (f *fakeAPI) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.titleErr
}

func (f *fakeAPI) DeleteChat(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeAPI) GetMessages(ctx context.Context, chatID string, page, limit int) (api.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls = append(f.pageCalls, page)
	return f.pages[page], nil
}

type readCall struct {
	chatID string
	ids    []string
}

type fakeDelivery struct {
	mu      sync.Mutex
	joins   []string
	leaves  []string
	reads   []readCall
	sent    []models.Message
	deliver func(models.Message) (*models.Message, error)
}

func (d *fakeDelivery) Deliver(ctx context.Context, msg models.Message) (*models.Message, error) {
	d.mu.Lock()
	d.sent = append(d.sent, msg)
	fn := d.deliver
	d.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(msg)
}

func (d *fakeDelivery) JoinRoom(chatID string) {
	d.mu.Lock()
	d.joins = append(d.joins, chatID)
	d.mu.Unlock()
}

func (d *fakeDelivery) LeaveRoom(chatID string) {
	d.mu.Lock()
	d.leaves = append(d.leaves, chatID)
	d.mu.Unlock()
}

func (d *fakeDelivery) MarkRead(ctx context.Context, chatID string, ids []string) error {
	d.mu.Lock()
	d.reads = append(d.reads, readCall{chatID: chatID, ids: append([]string(nil), ids...)})
	d.mu.Unlock()
	return nil
}

func (d *fakeDelivery) snapshot() (joins, leaves []string, reads []readCall) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.joins...), append([]string(nil), d.leaves...), append([]readCall(nil), d.reads...)
}

type fakeUsers struct {
	user *models.User
}

func (u fakeUsers) CurrentUser() (models.User, bool) {
	if u.user == nil {
		return models.User{}, false
	}
	return *u.user, true
}

var signedIn = fakeUsers{user: &models.User{ID: "user-1", Name: "Asha"}}

var errBoom = errors.New("boom")

func newTestStore(t *testing.T, a *fakeAPI, d *fakeDelivery, users UserSource, cache Cache) *Store {
	t.Helper()
	s := New(a, d, users, cache, zerolog.Nop())
	t.Cleanup(s.Close)
	return s
}

func assistant(id, chatID, content string, read bool) models.Message {
	m := models.Message{ID: id, ChatID: chatID, AgentID: "therapist", Content: content, Role: models.RoleAssistant}
	if read {
		m = m.MarkRead()
	}
	return m
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

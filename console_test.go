package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"guru-chat/models"
	"guru-chat/session"
)

type fakeChatStore struct {
	calls   []string
	current *models.ChatSession
	sendErr error
}

func (f *fakeChatStore) LoadChats(ctx context.Context) ([]models.Chat, error) {
	f.calls = append(f.calls, "chats")
	return []models.Chat{{ID: "c1", Title: "Career", MessageCount: 3}}, nil
}

func (f *fakeChatStore) CreateNewChat(ctx context.Context, agentID string) (string, error) {
	f.calls = append(f.calls, "new "+agentID)
	return "c2", nil
}

func (f *fakeChatStore) LoadChat(ctx context.Context, chatID string) error {
	f.calls = append(f.calls, "open "+chatID)
	f.current = &models.ChatSession{ChatID: chatID, Title: "Career", Messages: []models.Message{
		{ID: "m1", Role: models.RoleUser, Content: "hi"},
		{ID: "m2", Role: models.RoleAssistant, AgentID: "career", Content: "hello"},
	}}
	return nil
}

func (f *fakeChatStore) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	f.calls = append(f.calls, "title "+chatID+" "+title)
	return nil
}

func (f *fakeChatStore) DeleteChat(ctx context.Context, chatID string) error {
	f.calls = append(f.calls, "delete "+chatID)
	return nil
}

func (f *fakeChatStore) LoadOlder(ctx context.Context) (int, error) {
	f.calls = append(f.calls, "older")
	return 0, nil
}

func (f *fakeChatStore) SendMessage(ctx context.Context, content, agentID, chatID string) (models.Message, error) {
	f.calls = append(f.calls, "send "+agentID+" "+content)
	if f.sendErr != nil {
		return models.Message{}, &session.SendError{Draft: content, Err: f.sendErr}
	}
	return models.Message{Content: content}, nil
}

func (f *fakeChatStore) Current() (models.ChatSession, bool) {
	if f.current == nil {
		return models.ChatSession{}, false
	}
	return *f.current, true
}

func (f *fakeChatStore) CurrentChatID() string {
	if f.current == nil {
		return ""
	}
	return f.current.ChatID
}

func newTestConsole(store chatStore) (*console, *bytes.Buffer) {
	var out bytes.Buffer
	return &console{
		store:   func() chatStore { return store },
		agentID: "therapist",
		out:     &out,
	}, &out
}

func TestConsoleCommands(t *testing.T) {
	store := &fakeChatStore{}
	con, out := newTestConsole(store)

	input := strings.Join([]string{
		"/chats",
		"/new",
		"/new career",
		"/open c1",
		"/title Job hunt",
		"how do I negotiate?",
		"/older",
		"/delete",
		"/bogus",
		"/quit",
		"never read",
	}, "\n")
	require.NoError(t, con.run(context.Background(), strings.NewReader(input)))

	require.Equal(t, []string{
		"chats",
		"new therapist",
		"new career",
		"open c1",
		"title c1 Job hunt",
		"send therapist how do I negotiate?",
		"older",
		"delete c1",
	}, store.calls)

	text := out.String()
	require.Contains(t, text, "c1\tCareer\t3 messages")
	require.Contains(t, text, "opened new chat c2")
	require.Contains(t, text, "career> hello")
	require.Contains(t, text, "you> hi")
	require.Contains(t, text, "deleted c1")
	require.Contains(t, text, "unknown command /bogus")
}

func TestConsoleKeepsDraftOnFailedSend(t *testing.T) {
	store := &fakeChatStore{sendErr: errors.New("offline")}
	con, out := newTestConsole(store)

	require.NoError(t, con.run(context.Background(), strings.NewReader("remember this\n")))
	require.Contains(t, out.String(), "not sent (offline): remember this")
}

func TestConsoleSignedOut(t *testing.T) {
	var out bytes.Buffer
	con := &console{store: func() chatStore { return nil }, out: &out}

	require.NoError(t, con.run(context.Background(), strings.NewReader("hello\n")))
	require.Contains(t, out.String(), "error: not signed in")
}

func TestFollowPrintsOnlyNewReplies(t *testing.T) {
	con, out := newTestConsole(&fakeChatStore{})
	existing := models.Message{ID: "m1", Role: models.RoleAssistant, AgentID: "career", Content: "old reply"}

	views := make(chan session.View, 8)
	views <- session.View{Current: &models.ChatSession{ChatID: "c1", AgentID: "career", Messages: []models.Message{existing}}}
	views <- session.View{Current: &models.ChatSession{ChatID: "c1", AgentID: "career", IsTyping: true, Messages: []models.Message{existing}}}
	views <- session.View{Current: &models.ChatSession{ChatID: "c1", AgentID: "career", Messages: []models.Message{
		existing,
		{ID: "m2", Role: models.RoleUser, Content: "question"},
		{ID: "m3", Role: models.RoleAssistant, AgentID: "career", Content: "new reply"},
	}}}
	views <- session.View{Error: "connection lost, reconnecting: EOF"}
	views <- session.View{Error: "connection lost, reconnecting: EOF"}
	close(views)

	con.follow(views)

	text := out.String()
	require.NotContains(t, text, "old reply")
	require.NotContains(t, text, "question")
	require.Contains(t, text, "career is typing...")
	require.Contains(t, text, "career> new reply")
	require.Equal(t, 1, strings.Count(text, "! connection lost"))
}

func TestFollowPrintsReturnedDraftsOnce(t *testing.T) {
	con, out := newTestConsole(&fakeChatStore{})

	first := session.Draft{ChatID: "c1", Content: "are you there?"}
	views := make(chan session.View, 4)
	views <- session.View{Error: "rejected (code 400)", Drafts: []session.Draft{first}}
	views <- session.View{Error: "rejected (code 400)", Drafts: []session.Draft{first}}
	views <- session.View{Drafts: []session.Draft{first, {ChatID: "c1", Content: "hello?"}}}
	close(views)

	con.follow(views)

	text := out.String()
	require.Equal(t, 1, strings.Count(text, "not sent to c1: are you there?"))
	require.Contains(t, text, "not sent to c1: hello?")
	require.Equal(t, 1, strings.Count(text, "! rejected (code 400)"))
}

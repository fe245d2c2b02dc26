package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"guru-chat/models"
	"guru-chat/session"
)

// chatStore is the part of the session store the console drives.
type chatStore interface {
	LoadChats(ctx context.Context) ([]models.Chat, error)
	CreateNewChat(ctx context.Context, agentID string) (string, error)
	LoadChat(ctx context.Context, chatID string) error
	UpdateChatTitle(ctx context.Context, chatID, title string) error
	DeleteChat(ctx context.Context, chatID string) error
	LoadOlder(ctx context.Context) (int, error)
	SendMessage(ctx context.Context, content, agentID, chatID string) (models.Message, error)
	Current() (models.ChatSession, bool)
	CurrentChatID() string
}

var errSignedOut = errors.New("not signed in")

const consoleHelp = `commands:
  /chats            list chats
  /new [agent]      start a chat
  /open <id>        open a chat
  /older            load older messages
  /title <text>     rename the open chat
  /delete [id]      delete a chat (default: the open one)
  /quit             exit
anything else is sent to the open chat`

// console reads line commands and prints replies as they arrive.
type console struct {
	store   func() chatStore
	agentID string

	mu  sync.Mutex
	out io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run executes commands from in until /quit, end of input or ctx ends.
func (c *console) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		if err := c.exec(ctx, line); err != nil {
			var sendErr *session.SendError
			if errors.As(err, &sendErr) {
				c.printf("not sent (%v): %s\n", sendErr.Err, sendErr.Draft)
				continue
			}
			c.printf("error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (c *console) exec(ctx context.Context, line string) error {
	store := c.store()
	if store == nil {
		return errSignedOut
	}

	if !strings.HasPrefix(line, "/") {
		_, err := store.SendMessage(ctx, line, c.agentID, "")
		return err
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/chats":
		chats, err := store.LoadChats(ctx)
		for _, ch := range chats {
			c.printf("%s\t%s\t%d messages\n", ch.ID, ch.Title, ch.MessageCount)
		}
		return err
	case "/new":
		agent := arg
		if agent == "" {
			agent = c.agentID
		}
		id, err := store.CreateNewChat(ctx, agent)
		if err != nil {
			return err
		}
		c.printf("opened new chat %s\n", id)
	case "/open":
		if arg == "" {
			return errors.New("usage: /open <chat id>")
		}
		if err := store.LoadChat(ctx, arg); err != nil {
			return err
		}
		c.printHistory(store)
	case "/older":
		n, err := store.LoadOlder(ctx)
		if err != nil {
			return err
		}
		c.printf("loaded %d older messages\n", n)
		if n > 0 {
			c.printHistory(store)
		}
	case "/title":
		id := store.CurrentChatID()
		if id == "" || arg == "" {
			return errors.New("usage: /title <text> with a chat open")
		}
		return store.UpdateChatTitle(ctx, id, arg)
	case "/delete":
		id := arg
		if id == "" {
			id = store.CurrentChatID()
		}
		if id == "" {
			return errors.New("usage: /delete <chat id>")
		}
		if err := store.DeleteChat(ctx, id); err != nil {
			return err
		}
		c.printf("deleted %s\n", id)
	case "/help":
		c.printf("%s\n", consoleHelp)
	default:
		return fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return nil
}

func (c *console) printHistory(store chatStore) {
	sess, ok := store.Current()
	if !ok {
		return
	}
	c.printf("-- %s %s --\n", sess.ChatID, sess.Title)
	for _, m := range sess.Messages {
		c.printf("%s\n", formatMessage(m))
	}
}

func formatMessage(m models.Message) string {
	if m.Role == models.RoleAssistant {
		who := m.AgentID
		if who == "" {
			who = "assistant"
		}
		return who + "> " + m.Content
	}
	return "you> " + m.Content
}

// follow prints assistant replies, typing starts, new errors and returned drafts for the
// open chat. Messages already present when a chat becomes current are not printed.
func (c *console) follow(views <-chan session.View) {
	var chatID, lastErr string
	seen := make(map[string]bool)
	typing := false
	drafts := 0

	for v := range views {
		if v.Error != "" && v.Error != lastErr {
			c.printf("! %s\n", v.Error)
		}
		lastErr = v.Error
		if len(v.Drafts) < drafts {
			drafts = 0
		}
		for _, d := range v.Drafts[drafts:] {
			c.printf("not sent to %s: %s\n", d.ChatID, d.Content)
		}
		drafts = len(v.Drafts)

		if v.Current == nil {
			chatID = ""
			continue
		}
		if v.Current.ChatID != chatID {
			chatID = v.Current.ChatID
			seen = make(map[string]bool)
			for _, m := range v.Current.Messages {
				seen[m.ID] = true
			}
			typing = v.Current.IsTyping
			continue
		}
		for _, m := range v.Current.Messages {
			if m.Role != models.RoleAssistant || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			c.printf("%s\n", formatMessage(m))
		}
		if v.Current.IsTyping && !typing {
			c.printf("%s is typing...\n", v.Current.AgentID)
		}
		typing = v.Current.IsTyping
	}
}

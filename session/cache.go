package session

import (
	"context"
	"sync"

	"guru-chat/models"
)

// Cache keeps the last known good chat list and per-chat history so a failed load can
// still show something.
type Cache interface {
	LoadChats(ctx context.Context, userID string) ([]models.Chat, error)
	SaveChats(ctx context.Context, userID string, chats []models.Chat) error
	LoadHistory(ctx context.Context, chatID string) ([]models.Message, error)
	SaveHistory(ctx context.Context, chatID string, msgs []models.Message) error
	Forget(ctx context.Context, chatID string) error
}

// maxCachedMessages bounds the history kept per chat.
const maxCachedMessages = 200

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.Mutex
	chats   map[string][]models.Chat
	history map[string][]models.Message
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		chats:   make(map[string][]models.Chat),
		history: make(map[string][]models.Message),
	}
}

func (c *MemoryCache) LoadChats(_ context.Context, userID string) ([]models.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Chat(nil), c.chats[userID]...), nil
}

func (c *MemoryCache) SaveChats(_ context.Context, userID string, chats []models.Chat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats[userID] = append([]models.Chat(nil), chats...)
	return nil
}

func (c *MemoryCache) LoadHistory(_ context.Context, chatID string) ([]models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.history[chatID]...), nil
}

func (c *MemoryCache) SaveHistory(_ context.Context, chatID string, msgs []models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[chatID] = cacheable(msgs)
	return nil
}

func (c *MemoryCache) Forget(_ context.Context, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, chatID)
	return nil
}

// cacheable drops provisional messages and keeps only the newest maxCachedMessages.
func cacheable(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.State == models.Confirmed {
			out = append(out, m)
		}
	}
	if len(out) > maxCachedMessages {
		out = out[len(out)-maxCachedMessages:]
	}
	return out
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"guru-chat/models"
)

const (
	cacheTTL      = 24 * time.Hour
	chatsPrefix   = "guruchat:chats:"
	historyPrefix = "guruchat:history:"
)

// RedisCache stores the chat list and history as JSON blobs with a TTL.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) LoadChats(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	if err := c.get(ctx, chatsPrefix+userID, &chats); err != nil {
		return nil, fmt.Errorf("failed to load chats: %w", err)
	}
	return chats, nil
}

func (c *RedisCache) SaveChats(ctx context.Context, userID string, chats []models.Chat) error {
	if err := c.set(ctx, chatsPrefix+userID, chats); err != nil {
		return fmt.Errorf("failed to save chats: %w", err)
	}
	return nil
}

func (c *RedisCache) LoadHistory(ctx context.Context, chatID string) ([]models.Message, error) {
	var history []models.Message
	if err := c.get(ctx, historyPrefix+chatID, &history); err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return history, nil
}

func (c *RedisCache) SaveHistory(ctx context.Context, chatID string, msgs []models.Message) error {
	if err := c.set(ctx, historyPrefix+chatID, cacheable(msgs)); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func (c *RedisCache) Forget(ctx context.Context, chatID string) error {
	if err := c.rdb.Del(ctx, historyPrefix+chatID).Err(); err != nil {
		return fmt.Errorf("failed to forget history: %w", err)
	}
	return nil
}

// get leaves v untouched when the key does not exist.
func (c *RedisCache) get(ctx context.Context, key string, v any) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (c *RedisCache) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, cacheTTL).Err()
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/repository"
	"audio-assistant/internal/infra/metrics"
)

// ChatCache keeps bot conversations in redis with a sliding ttl.
type ChatCache struct {
	client   RedisClient
	ttl      time.Duration
	maxTurns int
}

var _ repository.ChatHistoryRepository = (*ChatCache)(nil)

func NewChatCache(client RedisClient, ttl time.Duration, maxTurns int) *ChatCache {
	return &ChatCache{
		client:   client,
		ttl:      ttl,
		maxTurns: maxTurns,
	}
}

func chatKey(chatID int64) string { return "chat_history:" + strconv.FormatInt(chatID, 10) }

// Get returns an empty conversation when nothing is cached.
func (c *ChatCache) Get(ctx context.Context, chatID int64) (*model.Conversation, error) {
	data, err := c.client.Get(ctx, chatKey(chatID))
	if IsNil(err) {
		metrics.IncCacheRequest("chat_history", "miss")
		return &model.Conversation{}, nil
	}
	if err != nil {
		return nil, err
	}
	metrics.IncCacheRequest("chat_history", "hit")

	var conv model.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("decode chat history: %w", err)
	}
	return &conv, nil
}

func (c *ChatCache) Save(ctx context.Context, chatID int64, conv *model.Conversation) error {
	trimmed := conv.Tail(c.maxTurns)
	data, err := json.Marshal(trimmed)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, chatKey(chatID), data, c.ttl)
}

func (c *ChatCache) Clear(ctx context.Context, chatID int64) error {
	return c.client.Del(ctx, chatKey(chatID))
}

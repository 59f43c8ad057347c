package memstore

import (
	"context"
	"sync"

	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/repository"
)

// ChatHistory is the redis-less fallback for bot conversations.
type ChatHistory struct {
	mu       sync.Mutex
	convs    map[int64]model.Conversation
	maxTurns int
}

var _ repository.ChatHistoryRepository = (*ChatHistory)(nil)

func NewChatHistory(maxTurns int) *ChatHistory {
	return &ChatHistory{convs: make(map[int64]model.Conversation), maxTurns: maxTurns}
}

func (h *ChatHistory) Get(_ context.Context, chatID int64) (*model.Conversation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.convs[chatID]
	turns := make([]model.ConversationTurn, len(c.Turns))
	copy(turns, c.Turns)
	return &model.Conversation{Turns: turns}, nil
}

func (h *ChatHistory) Save(_ context.Context, chatID int64, conv *model.Conversation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := conv.Tail(h.maxTurns)
	turns := make([]model.ConversationTurn, len(t.Turns))
	copy(turns, t.Turns)
	h.convs[chatID] = model.Conversation{Turns: turns}
	return nil
}

func (h *ChatHistory) Clear(_ context.Context, chatID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.convs, chatID)
	return nil
}

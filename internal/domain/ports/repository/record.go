package repository

import (
	"context"

	"audio-assistant/internal/domain/model"
)

// RecordRepository stores assistant interaction records and user feedback.
type RecordRepository interface {
	Log(ctx context.Context, qx any, rec *model.Record) error
	ListByDataset(ctx context.Context, qx any, dataset string, limit int) ([]*model.Record, error)

	// SaveFeedback stores f unless feedback for the same output exists.
	// It reports whether f was stored.
	SaveFeedback(ctx context.Context, qx any, f *model.Feedback) (bool, error)
}

// ChatHistoryRepository keeps the running conversation of a chat.
type ChatHistoryRepository interface {
	Get(ctx context.Context, chatID int64) (*model.Conversation, error)
	Save(ctx context.Context, chatID int64, conv *model.Conversation) error
	Clear(ctx context.Context, chatID int64) error
}

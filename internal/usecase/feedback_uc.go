// File: internal/usecase/feedback_uc.go
package usecase

import (
	"context"
	"strings"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/repository"
)

// Compile-time check
var _ FeedbackUseCase = (*feedbackUC)(nil)

type FeedbackUseCase interface {
	// Rate stores a like or dislike for an output. An output is rated at
	// most once; later ratings report recorded=false.
	Rate(ctx context.Context, prompt, output string, liked bool) (recorded bool, err error)
	Records(ctx context.Context, dataset string, limit int) ([]*model.Record, error)
}

type feedbackUC struct {
	records repository.RecordRepository
}

func NewFeedbackUseCase(records repository.RecordRepository) *feedbackUC {
	return &feedbackUC{records: records}
}

func (uc *feedbackUC) Rate(ctx context.Context, prompt, output string, liked bool) (bool, error) {
	if strings.TrimSpace(output) == "" {
		return false, domain.ErrInvalidArgument
	}
	return uc.records.SaveFeedback(ctx, nil, model.NewFeedback(prompt, output, liked))
}

func (uc *feedbackUC) Records(ctx context.Context, dataset string, limit int) ([]*model.Record, error) {
	switch {
	case limit <= 0:
		limit = 100
	case limit > 500:
		limit = 500
	}
	return uc.records.ListByDataset(ctx, nil, dataset, limit)
}

package memstore

import (
	"context"
	"sync"

	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/repository"
)

// RecordRepo keeps records and feedback in memory.
type RecordRepo struct {
	mu       sync.Mutex
	records  []*model.Record
	feedback map[string]*model.Feedback
}

var _ repository.RecordRepository = (*RecordRepo)(nil)

func NewRecordRepo() *RecordRepo {
	return &RecordRepo{feedback: make(map[string]*model.Feedback)}
}

func (r *RecordRepo) Log(_ context.Context, _ any, rec *model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

// ListByDataset returns the newest records first.
func (r *RecordRepo) ListByDataset(_ context.Context, _ any, dataset string, limit int) ([]*model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Record
	for i := len(r.records) - 1; i >= 0; i-- {
		if dataset != "" && r.records[i].Dataset != dataset {
			continue
		}
		cp := *r.records[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *RecordRepo) SaveFeedback(_ context.Context, _ any, f *model.Feedback) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.feedback[f.OutputHash]; ok {
		return false, nil
	}
	cp := *f
	r.feedback[f.OutputHash] = &cp
	return true, nil
}

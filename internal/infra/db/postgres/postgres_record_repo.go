package postgres

import (
	"context"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.RecordRepository = (*recordRepo)(nil)

type recordRepo struct {
	pool *pgxpool.Pool
}

func NewRecordRepo(pool *pgxpool.Pool) *recordRepo {
	return &recordRepo{pool: pool}
}

func (r *recordRepo) Log(ctx context.Context, qx any, rec *model.Record) error {
	if rec == nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO interaction_records (id, dataset, text, prediction, created_at)
VALUES ($1, $2, $3, $4, $5);`
	_, err := execSQL(ctx, r.pool, qx, q, rec.ID, rec.Dataset, rec.Text, rec.Prediction, rec.CreatedAt)
	return err
}

// ListByDataset returns the newest records first. An empty dataset lists all.
func (r *recordRepo) ListByDataset(ctx context.Context, qx any, dataset string, limit int) ([]*model.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, dataset, text, prediction, created_at
FROM interaction_records
WHERE ($1 = '' OR dataset = $1)
ORDER BY created_at DESC
LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, qx, q, dataset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Record
	for rows.Next() {
		var rec model.Record
		if err := rows.Scan(&rec.ID, &rec.Dataset, &rec.Text, &rec.Prediction, &rec.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *recordRepo) SaveFeedback(ctx context.Context, qx any, f *model.Feedback) (bool, error) {
	if f == nil || f.OutputHash == "" {
		return false, domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO output_feedback (id, prompt, output, output_hash, liked, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (output_hash) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, qx, q, f.ID, f.Prompt, f.Output, f.OutputHash, f.Liked, f.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/repository"
	"audio-assistant/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.JobQueue = (*jobQueueRepo)(nil)

// jobQueueRepo is the durable JobQueue backend. A job handed out by
// DequeueNext is flagged as claimed so no other worker receives it, even
// while its status is still TODO.
type jobQueueRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobQueueRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobQueueRepo {
	return &jobQueueRepo{pool: pool, tm: tm}
}

const jobColumns = `key, samples, main_lang, model_config, status, transcript, detected_lang, last_error, created_at, updated_at`

func (r *jobQueueRepo) Enqueue(ctx context.Context, chunk *model.AudioChunk, master string) (string, error) {
	if chunk == nil || master == "" {
		return "", domain.ErrInvalidArgument
	}
	key := chunk.Key
	if key == "" {
		key = model.JobKey(chunk.Samples, chunk.MainLang, chunk.ModelConfig)
	}

	var inserted bool
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const upsert = `
INSERT INTO asr_jobs (key, samples, main_lang, model_config)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET
  status     = CASE WHEN asr_jobs.status = 'FAILED' THEN 'TODO' ELSE asr_jobs.status END,
  claimed    = CASE WHEN asr_jobs.status = 'FAILED' THEN FALSE ELSE asr_jobs.claimed END,
  last_error = CASE WHEN asr_jobs.status = 'FAILED' THEN '' ELSE asr_jobs.last_error END,
  updated_at = CASE WHEN asr_jobs.status = 'FAILED' THEN now() ELSE asr_jobs.updated_at END
RETURNING (xmax = 0);`
		row, err := pickRow(ctx, r.pool, tx, upsert, key, model.EncodeSamples(chunk.Samples), chunk.MainLang, chunk.ModelConfig)
		if err != nil {
			return err
		}
		if err := row.Scan(&inserted); err != nil {
			return fmt.Errorf("upsert job: %w", err)
		}

		const ref = `
INSERT INTO asr_job_masters (master, job_key) VALUES ($1, $2)
ON CONFLICT DO NOTHING;`
		_, err = execSQL(ctx, r.pool, tx, ref, master, key)
		return err
	})
	if err != nil {
		return "", err
	}
	if inserted {
		metrics.IncJobEnqueued("postgres")
	}
	return key, nil
}

func (r *jobQueueRepo) DequeueNext(ctx context.Context) (*model.QueueJob, error) {
	var job *model.QueueJob
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const fetch = `
SELECT ` + jobColumns + `
FROM asr_jobs
WHERE status = 'TODO' AND NOT claimed
ORDER BY created_at, key
LIMIT 1
FOR UPDATE SKIP LOCKED;`
		row, err := pickRow(ctx, r.pool, tx, fetch)
		if err != nil {
			return err
		}
		j, err := scanJob(row)
		if err != nil {
			return err
		}
		if _, err := execSQL(ctx, r.pool, tx,
			`UPDATE asr_jobs SET claimed = TRUE, updated_at = now() WHERE key = $1`, j.Key); err != nil {
			return err
		}
		job = j
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	metrics.IncJobDequeued("postgres")
	return job, nil
}

func (r *jobQueueRepo) setStatus(ctx context.Context, q string, args ...interface{}) error {
	tag, err := execSQL(ctx, r.pool, nil, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// unlessDone runs a status update guarded by status <> 'DONE'. No affected
// row on an existing job means it is already DONE and is left alone.
// $1 is always the job key.
func (r *jobQueueRepo) unlessDone(ctx context.Context, key, q string, args ...interface{}) error {
	err := r.setStatus(ctx, q, append([]interface{}{key}, args...)...)
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	_, gerr := r.Get(ctx, key)
	return gerr
}

func (r *jobQueueRepo) MarkInProgress(ctx context.Context, key string) error {
	return r.unlessDone(ctx, key,
		`UPDATE asr_jobs SET status = 'IN_PROGRESS', claimed = TRUE, updated_at = now() WHERE key = $1 AND status <> 'DONE'`)
}

func (r *jobQueueRepo) SetResult(ctx context.Context, key, text, detectedLang string) error {
	return r.setStatus(ctx, `
UPDATE asr_jobs
SET status = 'DONE', transcript = $2, detected_lang = $3, last_error = '', updated_at = now()
WHERE key = $1`, key, text, detectedLang)
}

func (r *jobQueueRepo) MarkFailed(ctx context.Context, key, reason string) error {
	return r.unlessDone(ctx, key,
		`UPDATE asr_jobs SET status = 'FAILED', last_error = $2, updated_at = now() WHERE key = $1 AND status <> 'DONE'`, reason)
}

func (r *jobQueueRepo) Requeue(ctx context.Context, key string) error {
	err := r.setStatus(ctx, `
UPDATE asr_jobs
SET status = 'TODO', claimed = FALSE, last_error = '', updated_at = now()
WHERE key = $1 AND status IN ('FAILED', 'IN_PROGRESS')`, key)
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if _, gerr := r.Get(ctx, key); gerr != nil {
		return gerr
	}
	return fmt.Errorf("job %s is not failed or in progress: %w", key, domain.ErrInvalidArgument)
}

func (r *jobQueueRepo) Get(ctx context.Context, key string) (*model.QueueJob, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT `+jobColumns+` FROM asr_jobs WHERE key = $1`, key)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobQueueRepo) GetResult(ctx context.Context, key string) (string, error) {
	j, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if j.Status != model.JobStatusDone {
		return "", fmt.Errorf("job %s is %s: %w", key, j.Status, domain.ErrNotFound)
	}
	return j.Transcript, nil
}

func (r *jobQueueRepo) GroupStatus(ctx context.Context, master string) (model.GroupStatus, error) {
	var st model.GroupStatus
	rows, err := queryRows(ctx, r.pool, nil, `
SELECT j.status
FROM asr_job_masters m
JOIN asr_jobs j ON j.key = m.job_key
WHERE m.master = $1`, master)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return st, domain.ErrReadDatabaseRow
		}
		st.Add(model.JobStatus(s))
	}
	return st, rows.Err()
}

func (r *jobQueueRepo) AllDone(ctx context.Context, master string) (bool, error) {
	st, err := r.GroupStatus(ctx, master)
	if err != nil {
		return false, err
	}
	return st.AllDone(), nil
}

func (r *jobQueueRepo) DeleteGroup(ctx context.Context, master string) error {
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		rows, err := queryRows(ctx, r.pool, tx,
			`DELETE FROM asr_job_masters WHERE master = $1 RETURNING job_key`, master)
		if err != nil {
			return err
		}
		var keys []string
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return domain.ErrReadDatabaseRow
			}
			keys = append(keys, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		_, err = execSQL(ctx, r.pool, tx, `
DELETE FROM asr_jobs j
WHERE j.key = ANY($1)
  AND NOT EXISTS (SELECT 1 FROM asr_job_masters m WHERE m.job_key = j.key)`, keys)
		return err
	})
}

func scanJob(row pgx.Row) (*model.QueueJob, error) {
	var (
		j      model.QueueJob
		raw    []byte
		status string
	)
	err := row.Scan(&j.Key, &raw, &j.MainLang, &j.ModelConfig, &status,
		&j.Transcript, &j.DetectedLang, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	samples, err := model.DecodeSamples(raw)
	if err != nil {
		return nil, err
	}
	j.Samples = samples
	j.Status = model.JobStatus(status)
	return &j, nil
}

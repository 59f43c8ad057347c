// Package memstore holds in-process repository implementations for single
// process deployments and tests.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/repository"
	"audio-assistant/internal/infra/metrics"
)

type memJob struct {
	job  model.QueueJob
	refs map[string]struct{}
}

// JobQueue is a mutex guarded queue with the same semantics as the redis store.
type JobQueue struct {
	mu      sync.Mutex
	jobs    map[string]*memJob
	masters map[string]map[string]struct{}
	todo    []string
}

var _ repository.JobQueue = (*JobQueue)(nil)

func NewJobQueue() *JobQueue {
	return &JobQueue{
		jobs:    make(map[string]*memJob),
		masters: make(map[string]map[string]struct{}),
	}
}

func (q *JobQueue) Enqueue(_ context.Context, chunk *model.AudioChunk, master string) (string, error) {
	if chunk == nil || master == "" {
		return "", domain.ErrInvalidArgument
	}
	key := chunk.Key
	if key == "" {
		key = model.JobKey(chunk.Samples, chunk.MainLang, chunk.ModelConfig)
	}
	now := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.masters[master] == nil {
		q.masters[master] = make(map[string]struct{})
	}
	q.masters[master][key] = struct{}{}

	j, ok := q.jobs[key]
	if !ok {
		samples := make([]float32, len(chunk.Samples))
		copy(samples, chunk.Samples)
		q.jobs[key] = &memJob{
			job: model.QueueJob{
				Key:         key,
				Samples:     samples,
				MainLang:    chunk.MainLang,
				ModelConfig: chunk.ModelConfig,
				Status:      model.JobStatusTodo,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			refs: map[string]struct{}{master: {}},
		}
		q.todo = append(q.todo, key)
		metrics.IncJobEnqueued("memory")
		return key, nil
	}

	j.refs[master] = struct{}{}
	if j.job.Status == model.JobStatusFailed {
		j.job.Status = model.JobStatusTodo
		j.job.LastError = ""
		j.job.UpdatedAt = now
		q.todo = append(q.todo, key)
	}
	return key, nil
}

func (q *JobQueue) DequeueNext(_ context.Context) (*model.QueueJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.todo) > 0 {
		key := q.todo[0]
		q.todo = q.todo[1:]
		j, ok := q.jobs[key]
		if !ok || j.job.Status != model.JobStatusTodo {
			continue
		}
		out := j.job
		metrics.IncJobDequeued("memory")
		return &out, nil
	}
	return nil, domain.ErrQueueEmpty
}

func (q *JobQueue) update(key string, fn func(j *model.QueueJob)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[key]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&j.job)
	j.job.UpdatedAt = time.Now()
	return nil
}

// unlessDone applies fn only while the job is not DONE yet. A finished
// transcript is never demoted by a late worker.
func (q *JobQueue) unlessDone(key string, fn func(j *model.QueueJob)) error {
	return q.update(key, func(j *model.QueueJob) {
		if j.Status != model.JobStatusDone {
			fn(j)
		}
	})
}

func (q *JobQueue) MarkInProgress(_ context.Context, key string) error {
	return q.unlessDone(key, func(j *model.QueueJob) { j.Status = model.JobStatusInProgress })
}

func (q *JobQueue) SetResult(_ context.Context, key, text, detectedLang string) error {
	return q.update(key, func(j *model.QueueJob) {
		j.Status = model.JobStatusDone
		j.Transcript = text
		j.DetectedLang = detectedLang
		j.LastError = ""
	})
}

func (q *JobQueue) MarkFailed(_ context.Context, key, reason string) error {
	return q.unlessDone(key, func(j *model.QueueJob) {
		j.Status = model.JobStatusFailed
		j.LastError = reason
	})
}

func (q *JobQueue) Requeue(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[key]
	if !ok {
		return domain.ErrNotFound
	}
	switch j.job.Status {
	case model.JobStatusFailed, model.JobStatusInProgress:
	default:
		return fmt.Errorf("job %s is not failed or in progress: %w", key, domain.ErrInvalidArgument)
	}
	j.job.Status = model.JobStatusTodo
	j.job.LastError = ""
	j.job.UpdatedAt = time.Now()
	q.todo = append(q.todo, key)
	return nil
}

func (q *JobQueue) Get(_ context.Context, key string) (*model.QueueJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := j.job
	return &out, nil
}

func (q *JobQueue) GetResult(ctx context.Context, key string) (string, error) {
	j, err := q.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if j.Status != model.JobStatusDone {
		return "", fmt.Errorf("job %s is %s: %w", key, j.Status, domain.ErrNotFound)
	}
	return j.Transcript, nil
}

func (q *JobQueue) GroupStatus(_ context.Context, master string) (model.GroupStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var st model.GroupStatus
	for key := range q.masters[master] {
		if j, ok := q.jobs[key]; ok {
			st.Add(j.job.Status)
		}
	}
	return st, nil
}

func (q *JobQueue) AllDone(ctx context.Context, master string) (bool, error) {
	st, err := q.GroupStatus(ctx, master)
	return st.AllDone(), err
}

func (q *JobQueue) DeleteGroup(_ context.Context, master string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key := range q.masters[master] {
		j, ok := q.jobs[key]
		if !ok {
			continue
		}
		delete(j.refs, master)
		if len(j.refs) == 0 {
			delete(q.jobs, key)
		}
	}
	delete(q.masters, master)
	return nil
}

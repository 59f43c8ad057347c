package repository

import (
	"context"

	"audio-assistant/internal/domain/model"
)

// JobQueue is the shared store between sessions and transcription workers.
//
// Jobs are keyed by content (model.JobKey) and grouped by master key. A job
// may belong to several masters; DeleteGroup only removes it once no master
// refers to it anymore.
type JobQueue interface {
	// Enqueue stores the chunk under master and returns its key. Enqueueing an
	// existing key only adds the master reference; a FAILED job goes back to TODO.
	Enqueue(ctx context.Context, chunk *model.AudioChunk, master string) (string, error)

	// DequeueNext hands out the oldest pending job. Each enqueue is handed out
	// at most once. Returns domain.ErrQueueEmpty when nothing is pending.
	DequeueNext(ctx context.Context) (*model.QueueJob, error)

	// MarkInProgress and MarkFailed leave a DONE job untouched and return nil,
	// so AllDone stays true until DeleteGroup.
	MarkInProgress(ctx context.Context, key string) error
	SetResult(ctx context.Context, key, text, detectedLang string) error
	MarkFailed(ctx context.Context, key, reason string) error

	// Requeue puts a FAILED or IN_PROGRESS job back to TODO.
	Requeue(ctx context.Context, key string) error

	Get(ctx context.Context, key string) (*model.QueueJob, error)
	GetResult(ctx context.Context, key string) (string, error)

	// AllDone reports whether master has jobs and all of them are DONE.
	AllDone(ctx context.Context, master string) (bool, error)
	GroupStatus(ctx context.Context, master string) (model.GroupStatus, error)
	DeleteGroup(ctx context.Context, master string) error
}

// File: internal/infra/worker/transcription_worker.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"audio-assistant/internal/config"
	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/adapter"
	"audio-assistant/internal/domain/ports/repository"
	"audio-assistant/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// TranscriptionWorker pulls jobs from the queue and runs ASR on them.
// A failed inference marks the job FAILED and the loop carries on.
type TranscriptionWorker struct {
	queue      repository.JobQueue
	asr        adapter.ASR
	idleDelay  time.Duration
	jobTimeout time.Duration
	log        *zerolog.Logger
}

func NewTranscriptionWorker(queue repository.JobQueue, asr adapter.ASR, cfg config.WorkerConfig, log *zerolog.Logger) *TranscriptionWorker {
	idle := cfg.IdleDelay
	if idle <= 0 {
		idle = time.Second
	}
	l := log.With().Str("component", "transcription_worker").Logger()
	return &TranscriptionWorker{
		queue:      queue,
		asr:        asr,
		idleDelay:  idle,
		jobTimeout: cfg.JobTimeout,
		log:        &l,
	}
}

// Start submits n worker loops to pool. The loops stop with ctx.
func (w *TranscriptionWorker) Start(ctx context.Context, pool *Pool, n int) error {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if err := pool.Submit(w.Run); err != nil {
			return fmt.Errorf("start worker loop %d: %w", i, err)
		}
	}
	w.log.Info().Int("loops", n).Dur("idle_delay", w.idleDelay).Msg("transcription workers started")
	return nil
}

// Run polls until ctx is done. Queue errors are logged and retried after
// the idle delay.
func (w *TranscriptionWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		processed, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("queue poll failed")
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.idleDelay):
		}
	}
}

// RunOnce handles at most one job. It reports whether a job was taken off
// the queue. Inference failures are recorded on the job, not returned.
func (w *TranscriptionWorker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.DequeueNext(ctx)
	if errors.Is(err, domain.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log := w.log.With().Str("job", shortKey(job.Key)).Str("model_config", job.ModelConfig).Logger()
	if err := w.queue.MarkInProgress(ctx, job.Key); err != nil {
		return true, fmt.Errorf("mark in progress: %w", err)
	}

	start := time.Now()
	text, detected, err := w.infer(ctx, job)
	elapsed := time.Since(start)
	metrics.ObserveASR(job.ModelConfig, elapsed.Milliseconds(), err == nil)

	// Shutdown mid-inference hands the job back instead of failing it.
	if err != nil && ctx.Err() != nil {
		if rerr := w.queue.Requeue(context.WithoutCancel(ctx), job.Key); rerr != nil {
			log.Warn().Err(rerr).Msg("requeue on shutdown failed")
		}
		return true, nil
	}

	if err != nil {
		metrics.IncJobProcessed(string(model.JobStatusFailed))
		log.Error().Err(err).Dur("duration", elapsed).Msg("inference failed")
		if merr := w.queue.MarkFailed(ctx, job.Key, err.Error()); merr != nil {
			return true, fmt.Errorf("mark failed: %w", merr)
		}
		return true, nil
	}

	if err := w.queue.SetResult(ctx, job.Key, text, detected); err != nil {
		return true, fmt.Errorf("set result: %w", err)
	}
	metrics.IncJobProcessed(string(model.JobStatusDone))
	log.Debug().Dur("duration", elapsed).Str("detected_lang", detected).Msg("job done")
	return true, nil
}

func (w *TranscriptionWorker) infer(ctx context.Context, job *model.QueueJob) (text, detected string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("asr panic: %v", r)
		}
	}()
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}
	return w.asr.Transcribe(ctx, job.Samples, job.MainLang, job.ModelConfig)
}

func shortKey(k string) string {
	if len(k) > 12 {
		return k[:12]
	}
	return k
}

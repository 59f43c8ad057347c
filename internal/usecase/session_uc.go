// File: internal/usecase/session_uc.go
package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"audio-assistant/internal/config"
	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/lang"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/adapter"
	"audio-assistant/internal/domain/ports/repository"
	"audio-assistant/internal/infra/logging"
	"audio-assistant/internal/infra/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ SessionUseCase = (*sessionUC)(nil)

// TranscribeRequest is one uploaded clip. Languages may be given as a code
// or an English name. An empty TargetLang means MainLang.
type TranscribeRequest struct {
	Audio       []byte
	MainLang    string
	ModelConfig string
	TargetLang  string
}

type SessionUseCase interface {
	// Transcribe streams the growing transcript of one clip. Every element
	// is a complete snapshot; the last one holds all segments.
	Transcribe(ctx context.Context, req TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error]
}

// QueueDrainer runs a single worker iteration. The session uses it to make
// progress on its own jobs while it waits.
type QueueDrainer interface {
	RunOnce(ctx context.Context) (bool, error)
}

type sessionUC struct {
	pre        adapter.Preprocessor
	queue      repository.JobQueue
	translator adapter.Translator
	drainer    QueueDrainer
	cfg        config.SessionConfig
	log        *zerolog.Logger
	newMaster  func() string
}

// NewSessionUseCase wires the session orchestrator. translator and drainer
// may be nil.
func NewSessionUseCase(
	pre adapter.Preprocessor,
	queue repository.JobQueue,
	translator adapter.Translator,
	drainer QueueDrainer,
	cfg config.SessionConfig,
	logger *zerolog.Logger,
) *sessionUC {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	l := logger.With().Str("component", "session").Logger()
	return &sessionUC{
		pre:        pre,
		queue:      queue,
		translator: translator,
		drainer:    drainer,
		cfg:        cfg,
		log:        &l,
		newMaster:  newMasterKey,
	}
}

func newMasterKey() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func (uc *sessionUC) Transcribe(ctx context.Context, req TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error] {
	return func(yield func(model.TranscriptSnapshot, error) bool) {
		start := time.Now()
		var empty model.TranscriptSnapshot

		mainCode, targetCode, err := resolveLanguages(req.MainLang, req.TargetLang)
		if err != nil {
			yield(empty, err)
			return
		}

		master := uc.newMaster()
		ctx = logging.WithMaster(ctx, master)
		log := logging.With(ctx, uc.log)
		defer logging.TraceDuration(log, "SessionUC.Transcribe")()

		segments, err := uc.pre.Prepare(ctx, req.Audio)
		if errors.Is(err, domain.ErrDecodeFailed) {
			log.Warn().Err(err).Int("bytes", len(req.Audio)).Msg("undecodable upload, returning empty transcript")
			metrics.ObserveSession("decode_failed", 0, time.Since(start))
			yield(empty, nil)
			return
		}
		if err != nil {
			metrics.ObserveSession("error", 0, time.Since(start))
			yield(empty, err)
			return
		}
		if len(segments) == 0 {
			metrics.ObserveSession("empty", 0, time.Since(start))
			yield(empty, nil)
			return
		}

		keys := make([]string, 0, len(segments))
		for _, seg := range segments {
			chunk, err := model.NewAudioChunk(seg.Samples, mainCode, req.ModelConfig)
			if err != nil {
				yield(empty, err)
				return
			}
			key, err := uc.queue.Enqueue(ctx, chunk, master)
			if err != nil {
				metrics.ObserveSession("error", len(keys), time.Since(start))
				yield(empty, fmt.Errorf("enqueue chunk %d: %w", len(keys), err))
				return
			}
			keys = append(keys, key)
		}
		log.Debug().Int("segments", len(keys)).Msg("chunks enqueued")

		if err := uc.wait(ctx, master, log); err != nil {
			metrics.ObserveSession(sessionResult(err), len(keys), time.Since(start))
			yield(empty, err)
			return
		}
		defer func() {
			if err := uc.queue.DeleteGroup(context.WithoutCancel(ctx), master); err != nil {
				log.Error().Err(err).Msg("delete job group")
			}
		}()

		translate := uc.translator != nil && targetCode != mainCode
		var snap model.TranscriptSnapshot
		for i, key := range keys {
			text, err := uc.queue.GetResult(ctx, key)
			if err != nil {
				metrics.ObserveSession("error", i, time.Since(start))
				yield(snap.Clone(), fmt.Errorf("result of chunk %d: %w", i, err))
				return
			}
			native := strings.TrimSpace(text)
			target := native
			if translate && native != "" {
				target, err = uc.translator.Translate(ctx, native, mainCode, targetCode)
				if err != nil {
					metrics.ObserveSession("error", i, time.Since(start))
					yield(snap.Clone(), fmt.Errorf("translate chunk %d: %w", i, err))
					return
				}
			}
			startTs, stopTs := model.SegmentTimestamps(segments[i].Range)
			snap.Segments = append(snap.Segments, model.TranscriptSegment{
				NativeText:     native,
				StartTimestamp: startTs,
				StopTimestamp:  stopTs,
				TargetText:     target,
			})
			snap.Transcript += native + "\n"
			if !yield(snap.Clone(), nil) {
				return
			}
		}
		metrics.ObserveSession("done", len(keys), time.Since(start))
	}
}

// wait polls the group until every job is DONE. With assist enabled the
// session runs worker iterations itself instead of sleeping.
func (uc *sessionUC) wait(ctx context.Context, master string, log *zerolog.Logger) error {
	var deadline <-chan time.Time
	if uc.cfg.MaxWait > 0 {
		t := time.NewTimer(uc.cfg.MaxWait)
		defer t.Stop()
		deadline = t.C
	}
	for {
		st, err := uc.queue.GroupStatus(ctx, master)
		if err != nil {
			return fmt.Errorf("group status: %w", err)
		}
		if st.Failed > 0 {
			return fmt.Errorf("%w: %d of %d chunks failed", domain.ErrJobFailed, st.Failed, st.Total)
		}
		if st.AllDone() {
			return nil
		}

		if uc.cfg.Assist && uc.drainer != nil {
			processed, err := uc.drainer.RunOnce(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("assist iteration failed")
			}
			if processed && err == nil {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w after %s", domain.ErrSessionTimeout, uc.cfg.MaxWait)
		case <-time.After(uc.cfg.PollInterval):
		}
	}
}

func resolveLanguages(mainLang, targetLang string) (string, string, error) {
	mainCode, ok := lang.Code(mainLang)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", domain.ErrUnsupportedLanguage, mainLang)
	}
	if strings.TrimSpace(targetLang) == "" {
		return mainCode, mainCode, nil
	}
	targetCode, ok := lang.Code(targetLang)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", domain.ErrUnsupportedLanguage, targetLang)
	}
	return mainCode, targetCode, nil
}

func sessionResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrJobFailed):
		return "failed"
	case errors.Is(err, domain.ErrSessionTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

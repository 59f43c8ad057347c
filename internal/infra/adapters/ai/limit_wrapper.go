package ai

import (
	"context"
	"iter"

	"audio-assistant/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.LLM = (*limitedLLM)(nil)

type limitedLLM struct {
	inner adapter.LLM
	sem   chan struct{}
}

// NewLimitedLLM bounds the number of in-flight calls to inner. A stream
// holds its slot until the consumer stops ranging.
func NewLimitedLLM(inner adapter.LLM, maxConcurrent int) adapter.LLM {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedLLM{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedLLM) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedLLM) release() { <-l.sem }

func (l *limitedLLM) Complete(ctx context.Context, req adapter.GenerateRequest) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.release()
	return l.inner.Complete(ctx, req)
}

func (l *limitedLLM) Stream(ctx context.Context, req adapter.GenerateRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := l.acquire(ctx); err != nil {
			yield("", err)
			return
		}
		defer l.release()
		for piece, err := range l.inner.Stream(ctx, req) {
			if !yield(piece, err) || err != nil {
				return
			}
		}
	}
}

//go:build !integration

package apiv1_test

import (
	"context"
	"io"
	"iter"

	"github.com/rs/zerolog"

	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type fakeSession struct {
	got            usecase.TranscribeRequest
	TranscribeFunc func(ctx context.Context, req usecase.TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error]
}

func (f *fakeSession) Transcribe(ctx context.Context, req usecase.TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error] {
	f.got = req
	return f.TranscribeFunc(ctx, req)
}

type fakeAssistant struct {
	DecideFunc func(ctx context.Context, conv model.Conversation) (usecase.Plugin, error)
	AnswerFunc func(ctx context.Context, conv model.Conversation) iter.Seq2[string, error]
}

func (f *fakeAssistant) Decide(ctx context.Context, conv model.Conversation) (usecase.Plugin, error) {
	return f.DecideFunc(ctx, conv)
}

func (f *fakeAssistant) Answer(ctx context.Context, conv model.Conversation) iter.Seq2[string, error] {
	return f.AnswerFunc(ctx, conv)
}

// snapshots yields the given snapshots and then err, if any.
func snapshots(err error, snaps ...model.TranscriptSnapshot) iter.Seq2[model.TranscriptSnapshot, error] {
	return func(yield func(model.TranscriptSnapshot, error) bool) {
		for _, s := range snaps {
			if !yield(s, nil) {
				return
			}
		}
		if err != nil {
			yield(model.TranscriptSnapshot{}, err)
		}
	}
}

// answers yields the given cumulative texts and then err, if any.
func answers(err error, texts ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, t := range texts {
			if !yield(t, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

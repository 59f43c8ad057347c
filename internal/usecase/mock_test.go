//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"iter"
	"sync"

	"github.com/rs/zerolog"

	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/adapter"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// ---- Mock LLM ----

type MockLLM struct {
	mu      sync.Mutex
	Prompts []string

	CompleteFunc func(ctx context.Context, req adapter.GenerateRequest) (string, error)
	StreamFunc   func(ctx context.Context, req adapter.GenerateRequest) iter.Seq2[string, error]
}

var _ adapter.LLM = (*MockLLM)(nil)

func (m *MockLLM) Complete(ctx context.Context, req adapter.GenerateRequest) (string, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, req.Prompt)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "", nil
}

func (m *MockLLM) Stream(ctx context.Context, req adapter.GenerateRequest) iter.Seq2[string, error] {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, req.Prompt)
	m.mu.Unlock()
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return func(func(string, error) bool) {}
}

// tokens streams the given pieces in order.
func tokens(pieces ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, p := range pieces {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// ---- Mock Embedder ----

type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return m.EmbedFunc(ctx, texts)
}

// ---- Mock Classifier ----

type MockClassifier struct {
	mu    sync.Mutex
	Texts []string
	Label string
	Err   error
}

func (m *MockClassifier) Classify(_ context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Texts = append(m.Texts, text)
	return m.Label, m.Err
}

// ---- Mock Search ----

type MockSearch struct {
	Queries    []string
	SearchFunc func(ctx context.Context, query string) (*adapter.SearchResult, error)
}

func (m *MockSearch) Search(ctx context.Context, query string) (*adapter.SearchResult, error) {
	m.Queries = append(m.Queries, query)
	return m.SearchFunc(ctx, query)
}

type MockFetcher struct {
	mu      sync.Mutex
	Fetched []string

	FetchFunc func(ctx context.Context, url string) (string, error)
}

func (m *MockFetcher) FetchText(ctx context.Context, url string) (string, error) {
	m.mu.Lock()
	m.Fetched = append(m.Fetched, url)
	m.mu.Unlock()
	return m.FetchFunc(ctx, url)
}

// ---- Mock Translator ----

type MockTranslator struct {
	mu    sync.Mutex
	Calls [][3]string

	TranslateFunc func(ctx context.Context, text, src, tgt string) (string, error)
}

func (m *MockTranslator) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, [3]string{text, src, tgt})
	m.mu.Unlock()
	if m.TranslateFunc != nil {
		return m.TranslateFunc(ctx, text, src, tgt)
	}
	return "[" + tgt + "] " + text, nil
}

// ---- Mock Preprocessor ----

type MockPreprocessor struct {
	PrepareFunc func(ctx context.Context, raw []byte) ([]model.AudioSegment, error)
}

func (m *MockPreprocessor) Prepare(ctx context.Context, raw []byte) ([]model.AudioSegment, error) {
	return m.PrepareFunc(ctx, raw)
}

func segmentsOf(ranges ...model.SpeechRange) []model.AudioSegment {
	out := make([]model.AudioSegment, len(ranges))
	for i, r := range ranges {
		v := float32(i + 1)
		out[i] = model.AudioSegment{Range: r, Samples: []float32{v, v, v, v}}
	}
	return out
}

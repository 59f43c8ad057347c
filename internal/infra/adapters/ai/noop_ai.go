package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"iter"
	"strings"

	"audio-assistant/internal/domain/ports/adapter"
)

var (
	_ adapter.LLM        = (*NoopAI)(nil)
	_ adapter.Embedder   = (*NoopAI)(nil)
	_ adapter.ASR        = (*NoopAI)(nil)
	_ adapter.Translator = (*NoopAI)(nil)
)

// NoopAI is the -dev provider. It answers deterministically without any
// network access.
type NoopAI struct{}

func NewNoopAI() *NoopAI { return &NoopAI{} }

func (NoopAI) Complete(_ context.Context, req adapter.GenerateRequest) (string, error) {
	return noopReply(req.Prompt), nil
}

func (n NoopAI) Stream(ctx context.Context, req adapter.GenerateRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, w := range strings.SplitAfter(noopReply(req.Prompt), " ") {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(w, nil) {
				return
			}
		}
	}
}

func (NoopAI) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 8)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%8]++
		}
		out[i] = v
	}
	return out, nil
}

func (NoopAI) Transcribe(_ context.Context, samples []float32, langCode, _ string) (string, string, error) {
	return fmt.Sprintf("[%d samples]", len(samples)), langCode, nil
}

func (NoopAI) Translate(_ context.Context, text, _, targetLang string) (string, error) {
	return "[" + targetLang + "] " + text, nil
}

func noopReply(prompt string) string {
	return fmt.Sprintf("noop reply to a %d character prompt", len([]rune(prompt)))
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"audio-assistant/internal/domain/ports/adapter"
	"audio-assistant/internal/infra/metrics"
)

// Compile-time assurance this adapter satisfies the ports
var (
	_ adapter.LLM      = (*OpenAIAdapter)(nil)
	_ adapter.Embedder = (*OpenAIAdapter)(nil)
)

// OpenAIAdapter talks to any server speaking the OpenAI completions and
// embeddings API (OpenAI itself, vLLM, TGI's OpenAI route).
type OpenAIAdapter struct {
	client     *openai.Client
	model      string
	embedModel string
	tokens     func(string) int
}

func NewOpenAIAdapter(apiKey, baseURL, model, embedModel string) (*OpenAIAdapter, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("openai: api key or base url required")
	}
	if model == "" {
		model = "gpt-3.5-turbo-instruct"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIAdapter{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		embedModel: embedModel,
		tokens:     defaultCounter.Count,
	}, nil
}

func (o *OpenAIAdapter) completionRequest(req adapter.GenerateRequest, stream bool) openai.CompletionRequest {
	return openai.CompletionRequest{
		Model:       o.model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      stream,
	}
}

func (o *OpenAIAdapter) Complete(ctx context.Context, req adapter.GenerateRequest) (string, error) {
	start := time.Now()
	resp, err := o.client.CreateCompletion(ctx, o.completionRequest(req, false))
	latency := time.Since(start).Milliseconds()
	if err != nil {
		metrics.ObserveLLMCall("openai", o.model, 0, 0, latency, false)
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.ObserveLLMCall("openai", o.model, 0, 0, latency, false)
		return "", errors.New("openai completion: no choices")
	}
	in, out := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if in == 0 {
		in = o.tokens(req.Prompt)
	}
	if out == 0 {
		out = o.tokens(resp.Choices[0].Text)
	}
	metrics.ObserveLLMCall("openai", o.model, in, out, latency, true)
	return resp.Choices[0].Text, nil
}

func (o *OpenAIAdapter) Stream(ctx context.Context, req adapter.GenerateRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		start := time.Now()
		stream, err := o.client.CreateCompletionStream(ctx, o.completionRequest(req, true))
		if err != nil {
			metrics.ObserveLLMCall("openai", o.model, 0, 0, time.Since(start).Milliseconds(), false)
			yield("", fmt.Errorf("openai stream: %w", err))
			return
		}
		defer stream.Close()

		var out strings.Builder
		ok := true
		defer func() {
			metrics.ObserveLLMCall("openai", o.model, o.tokens(req.Prompt), o.tokens(out.String()),
				time.Since(start).Milliseconds(), ok)
		}()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				ok = false
				yield("", fmt.Errorf("openai stream: %w", err))
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Text == "" {
				continue
			}
			piece := resp.Choices[0].Text
			out.WriteString(piece)
			if !yield(piece, nil) {
				return
			}
		}
	}
}

func (o *OpenAIAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	metrics.AddEmbeddings("openai", o.embedModel, len(texts))
	return out, nil
}

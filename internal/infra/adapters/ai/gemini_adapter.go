// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"google.golang.org/genai"

	"audio-assistant/internal/domain/ports/adapter"
	"audio-assistant/internal/infra/metrics"
)

var (
	_ adapter.LLM      = (*GeminiAdapter)(nil)
	_ adapter.Embedder = (*GeminiAdapter)(nil)
)

type GeminiAdapter struct {
	client     *genai.Client
	model      string
	embedModel string
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, model, embedModel string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{
		client:     c,
		model:      modelOrDefault(model, "gemini-2.0-flash"),
		embedModel: modelOrDefault(embedModel, "text-embedding-004"),
	}, nil
}

func (g *GeminiAdapter) generateConfig(req adapter.GenerateRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:   genai.Ptr(req.Temperature),
		StopSequences: req.Stop,
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}

func (g *GeminiAdapter) Complete(ctx context.Context, req adapter.GenerateRequest) (string, error) {
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), g.generateConfig(req))
	latency := time.Since(start).Milliseconds()
	if err != nil {
		metrics.ObserveLLMCall("gemini", g.model, 0, 0, latency, false)
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	in, out := usage(resp)
	metrics.ObserveLLMCall("gemini", g.model, in, out, latency, true)
	return responseText(resp), nil
}

func (g *GeminiAdapter) Stream(ctx context.Context, req adapter.GenerateRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		start := time.Now()
		var in, out int
		ok := true
		defer func() {
			metrics.ObserveLLMCall("gemini", g.model, in, out, time.Since(start).Milliseconds(), ok)
		}()
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(req.Prompt), g.generateConfig(req)) {
			if err != nil {
				ok = false
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			if i, o := usage(resp); i > 0 || o > 0 {
				in, out = i, o
			}
			piece := responseText(resp)
			if piece == "" {
				continue
			}
			if !yield(piece, nil) {
				return
			}
		}
	}
}

func (g *GeminiAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}
	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	metrics.AddEmbeddings("gemini", g.embedModel, len(texts))
	return out, nil
}

// --- internal ---

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func usage(resp *genai.GenerateContentResponse) (int, int) {
	if resp == nil || resp.UsageMetadata == nil {
		return 0, 0
	}
	return int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount)
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}

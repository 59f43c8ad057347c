package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"audio-assistant/internal/domain/lang"
	"audio-assistant/internal/domain/ports/adapter"
	"audio-assistant/internal/infra/metrics"
)

var _ adapter.Translator = (*ChatTranslator)(nil)

// ChatTranslator translates with a chat completion model.
type ChatTranslator struct {
	client openai.Client
	model  string
}

func NewChatTranslator(apiKey, baseURL, model string) (*ChatTranslator, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("translator: api key or base url required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &ChatTranslator{client: openai.NewClient(opts...), model: modelOrDefault(model, "gpt-4o-mini")}, nil
}

func (t *ChatTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" || sourceLang == targetLang {
		return text, nil
	}
	src, ok := lang.Name(sourceLang)
	if !ok {
		src = sourceLang
	}
	tgt, ok := lang.Name(targetLang)
	if !ok {
		tgt = targetLang
	}

	start := time.Now()
	resp, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(
				"Translate the user's text from %s to %s. Reply with the translation only.", src, tgt)),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(0),
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		metrics.ObserveLLMCall("translator", t.model, 0, 0, latency, false)
		return "", fmt.Errorf("translate %s->%s: %w", sourceLang, targetLang, err)
	}
	if len(resp.Choices) == 0 {
		metrics.ObserveLLMCall("translator", t.model, 0, 0, latency, false)
		return "", errors.New("translate: no choices")
	}
	metrics.ObserveLLMCall("translator", t.model,
		int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens), latency, true)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

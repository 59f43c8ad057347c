package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"audio-assistant/internal/domain/lang"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/adapter"
	"audio-assistant/internal/infra/media"
)

var _ adapter.ASR = (*WhisperASR)(nil)

// WhisperASR sends chunks to an OpenAI-compatible /audio/transcriptions
// endpoint. modelConfig names ("small", "large") map to server model ids.
type WhisperASR struct {
	client *openai.Client
	models map[string]string
}

func NewWhisperASR(apiKey, baseURL string, models map[string]string) (*WhisperASR, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("asr: api key or base url required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if len(models) == 0 {
		models = map[string]string{"": openai.Whisper1}
	}
	return &WhisperASR{client: openai.NewClientWithConfig(cfg), models: models}, nil
}

func (w *WhisperASR) modelFor(modelConfig string) (string, error) {
	if m, ok := w.models[modelConfig]; ok {
		return m, nil
	}
	if m, ok := w.models[""]; ok {
		return m, nil
	}
	return "", fmt.Errorf("asr: unknown model config %q", modelConfig)
}

func (w *WhisperASR) Transcribe(ctx context.Context, samples []float32, langCode, modelConfig string) (string, string, error) {
	modelID, err := w.modelFor(modelConfig)
	if err != nil {
		return "", "", err
	}
	wav, err := media.EncodeWAV(samples, model.SampleRate)
	if err != nil {
		return "", "", fmt.Errorf("asr: encode chunk: %w", err)
	}
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    modelID,
		FilePath: "chunk.wav",
		Reader:   bytes.NewReader(wav),
		Language: langCode,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", "", fmt.Errorf("asr: %w", err)
	}
	detected := langCode
	if resp.Language != "" {
		// verbose_json reports the language by name
		if c, ok := lang.Code(resp.Language); ok {
			detected = c
		}
	}
	return strings.TrimSpace(resp.Text), detected, nil
}

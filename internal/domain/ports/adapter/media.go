package adapter

import (
	"context"

	"audio-assistant/internal/domain/model"
)

// Decoder turns an encoded media file into mono float32 samples at model.SampleRate.
type Decoder interface {
	Decode(ctx context.Context, raw []byte) ([]float32, error)
}

// SpeechDetector finds speech ranges in 16 kHz samples.
type SpeechDetector interface {
	Detect(samples []float32) []model.SpeechRange
}

// Preprocessor decodes and segments an upload.
type Preprocessor interface {
	Prepare(ctx context.Context, raw []byte) ([]model.AudioSegment, error)
}

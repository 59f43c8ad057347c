package adapter

import "context"

// ASR transcribes one 16 kHz mono chunk. langCode and modelConfig come from
// the queued job unchanged.
type ASR interface {
	Transcribe(ctx context.Context, samples []float32, langCode, modelConfig string) (text, detectedLang string, err error)
}

// Translator translates text between two language codes.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

package media

import (
	"context"
	"fmt"
	"time"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/adapter"
	"audio-assistant/internal/infra/logging"
	"audio-assistant/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// shortClipStart is the start offset reported for clips that skip detection.
const shortClipStart = 100

// Preprocessor decodes an upload and splits it into transcription segments.
// Clips up to longClip are sent whole; longer ones are cut by the detector.
type Preprocessor struct {
	decoder  adapter.Decoder
	detector adapter.SpeechDetector
	longClip int
	log      *zerolog.Logger
}

var _ adapter.Preprocessor = (*Preprocessor)(nil)

func NewPreprocessor(decoder adapter.Decoder, detector adapter.SpeechDetector, longClip time.Duration, logger *zerolog.Logger) *Preprocessor {
	l := logger.With().Str("component", "preprocessor").Logger()
	return &Preprocessor{
		decoder:  decoder,
		detector: detector,
		longClip: durationSamples(longClip),
		log:      &l,
	}
}

// Prepare returns no segments and no error for inputs of three units or less.
// Decode failures wrap domain.ErrDecodeFailed.
func (p *Preprocessor) Prepare(ctx context.Context, raw []byte) ([]model.AudioSegment, error) {
	if len(raw) <= 3 {
		return nil, nil
	}
	log := logging.With(ctx, p.log)
	defer logging.TraceDuration(log, "Preprocessor.Prepare")()

	samples, err := p.decoder.Decode(ctx, raw)
	if err != nil {
		metrics.IncDecodeFailure()
		return nil, fmt.Errorf("%w: %v", domain.ErrDecodeFailed, err)
	}
	if len(samples) <= 3 {
		return nil, nil
	}

	if len(samples) <= p.longClip {
		return []model.AudioSegment{{
			Range:   model.SpeechRange{Start: shortClipStart, End: len(samples)},
			Samples: samples,
		}}, nil
	}

	ranges := p.detector.Detect(samples)
	segs := make([]model.AudioSegment, 0, len(ranges))
	for _, r := range ranges {
		segs = append(segs, model.AudioSegment{Range: r, Samples: samples[r.Start:r.End]})
	}
	log.Debug().
		Int("samples", len(samples)).
		Int("segments", len(segs)).
		Msg("speech segments detected")
	return segs, nil
}

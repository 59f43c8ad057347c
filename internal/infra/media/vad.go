package media

import (
	"math"
	"time"

	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/adapter"
)

// VADOptions tune EnergyVAD. Zero values take the defaults noted per field.
type VADOptions struct {
	Threshold  float64       // speech probability threshold, 0.5
	MinSpeech  time.Duration // shorter speech is dropped, 250ms
	MinSilence time.Duration // silence needed to close a segment, 500ms
	SpeechPad  time.Duration // padding added on both sides, 100ms
	Window     int           // samples per probability window, 512
	Reference  float64       // RMS mapped to probability 1.0, 0.05
}

// EnergyVAD scores fixed windows by RMS energy and turns the scores into
// speech ranges with hysteresis, minimum durations and padding.
type EnergyVAD struct {
	threshold    float64
	negThreshold float64
	minSpeech    int
	minSilence   int
	pad          int
	window       int
	reference    float64
}

var _ adapter.SpeechDetector = (*EnergyVAD)(nil)

func NewEnergyVAD(opts VADOptions) *EnergyVAD {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.5
	}
	if opts.MinSpeech <= 0 {
		opts.MinSpeech = 250 * time.Millisecond
	}
	if opts.MinSilence <= 0 {
		opts.MinSilence = 500 * time.Millisecond
	}
	if opts.SpeechPad <= 0 {
		opts.SpeechPad = 100 * time.Millisecond
	}
	if opts.Window <= 0 {
		opts.Window = 512
	}
	if opts.Reference <= 0 {
		opts.Reference = 0.05
	}
	return &EnergyVAD{
		threshold:    opts.Threshold,
		negThreshold: opts.Threshold - 0.15,
		minSpeech:    durationSamples(opts.MinSpeech),
		minSilence:   durationSamples(opts.MinSilence),
		pad:          durationSamples(opts.SpeechPad),
		window:       opts.Window,
		reference:    opts.Reference,
	}
}

func durationSamples(d time.Duration) int {
	return int(int64(model.SampleRate) * d.Milliseconds() / 1000)
}

// Probabilities returns one speech score in [0,1] per window; the last
// window is zero padded.
func (v *EnergyVAD) Probabilities(samples []float32) []float64 {
	probs := make([]float64, 0, len(samples)/v.window+1)
	for off := 0; off < len(samples); off += v.window {
		end := min(off+v.window, len(samples))
		var sum float64
		for _, s := range samples[off:end] {
			sum += float64(s) * float64(s)
		}
		rms := math.Sqrt(sum / float64(v.window))
		probs = append(probs, math.Min(1, rms/v.reference))
	}
	return probs
}

// Detect returns speech ranges in sample offsets, ordered and non-overlapping.
func (v *EnergyVAD) Detect(samples []float32) []model.SpeechRange {
	n := len(samples)
	var (
		speeches  []model.SpeechRange
		cur       model.SpeechRange
		triggered bool
		tempEnd   int
	)
	for i, p := range v.Probabilities(samples) {
		pos := v.window * i
		if p >= v.threshold && tempEnd != 0 {
			tempEnd = 0
		}
		if p >= v.threshold && !triggered {
			triggered = true
			cur = model.SpeechRange{Start: pos}
			continue
		}
		if p < v.negThreshold && triggered {
			if tempEnd == 0 {
				tempEnd = pos
			}
			if pos-tempEnd < v.minSilence {
				continue
			}
			cur.End = tempEnd
			if cur.End-cur.Start > v.minSpeech {
				speeches = append(speeches, cur)
			}
			triggered = false
			tempEnd = 0
		}
	}
	if triggered && n-cur.Start > v.minSpeech {
		cur.End = n
		speeches = append(speeches, cur)
	}

	for i := range speeches {
		if i == 0 {
			speeches[i].Start = max(0, speeches[i].Start-v.pad)
		}
		if i == len(speeches)-1 {
			speeches[i].End = min(n, speeches[i].End+v.pad)
			continue
		}
		silence := speeches[i+1].Start - speeches[i].End
		if silence < 2*v.pad {
			speeches[i].End += silence / 2
			speeches[i+1].Start = max(0, speeches[i+1].Start-silence/2)
		} else {
			speeches[i].End = min(n, speeches[i].End+v.pad)
			speeches[i+1].Start = max(0, speeches[i+1].Start-v.pad)
		}
	}
	return speeches
}

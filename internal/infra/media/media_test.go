//go:build !integration

package media

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"

	"github.com/rs/zerolog"
)

func tone(n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/model.SampleRate))
	}
	return out
}

func concat(parts ...[]float32) []float32 {
	var out []float32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestEncodeDecodeWAV(t *testing.T) {
	in := tone(1600, 0.5)
	data, err := EncodeWAV(in, model.SampleRate)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !IsWAV(data) {
		t.Fatal("encoded data not recognised as wav")
	}
	out, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if math.Abs(float64(in[i]-out[i])) > 1.0/16000 {
			t.Fatalf("sample %d: got %v want %v", i, out[i], in[i])
		}
	}

	if _, err := EncodeWAV(nil, model.SampleRate); err == nil {
		t.Error("expected error for empty samples")
	}
}

func TestDecodeWAV_StereoResampled(t *testing.T) {
	// 8 kHz stereo, left = 0.5, right = -0.5 → mono zero, twice the samples
	const frames = 800
	payload := make([]byte, frames*4)
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint16(payload[4*i:], uint16(int16(16384)))
		binary.LittleEndian.PutUint16(payload[4*i+2:], uint16(int16(-16384)))
	}
	hdr := wavHeaderBytes(t, 2, 8000, len(payload))
	out, err := DecodeWAV(append(hdr, payload...))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2*frames {
		t.Fatalf("len = %d, want %d", len(out), 2*frames)
	}
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample %d = %v, want 0", i, s)
		}
	}
}

func wavHeaderBytes(t *testing.T, channels, rate, dataLen int) []byte {
	t.Helper()
	b := make([]byte, 44)
	copy(b[0:], "RIFF")
	binary.LittleEndian.PutUint32(b[4:], uint32(36+dataLen))
	copy(b[8:], "WAVE")
	copy(b[12:], "fmt ")
	binary.LittleEndian.PutUint32(b[16:], 16)
	binary.LittleEndian.PutUint16(b[20:], 1)
	binary.LittleEndian.PutUint16(b[22:], uint16(channels))
	binary.LittleEndian.PutUint32(b[24:], uint32(rate))
	binary.LittleEndian.PutUint32(b[28:], uint32(rate*channels*2))
	binary.LittleEndian.PutUint16(b[32:], uint16(channels*2))
	binary.LittleEndian.PutUint16(b[34:], 16)
	copy(b[36:], "data")
	binary.LittleEndian.PutUint32(b[40:], uint32(dataLen))
	return b
}

func TestDecodeWAV_Rejects(t *testing.T) {
	if _, err := DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Error("expected error for non-wav input")
	}
	hdr := wavHeaderBytes(t, 1, 16000, 0)
	binary.LittleEndian.PutUint16(hdr[34:], 24)
	if _, err := DecodeWAV(hdr); err == nil {
		t.Error("expected error for 24-bit pcm")
	}
}

func TestEnergyVAD_Detect(t *testing.T) {
	vad := NewEnergyVAD(VADOptions{})
	sec := model.SampleRate

	t.Run("silence yields no ranges", func(t *testing.T) {
		if got := vad.Detect(make([]float32, 3*sec)); len(got) != 0 {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("single burst is padded", func(t *testing.T) {
		samples := concat(make([]float32, sec), tone(2*sec, 0.5), make([]float32, sec))
		got := vad.Detect(samples)
		if len(got) != 1 {
			t.Fatalf("got %d ranges: %v", len(got), got)
		}
		r := got[0]
		if r.Start > sec || r.Start < sec-1600-512 {
			t.Errorf("start = %d", r.Start)
		}
		if r.End < 3*sec || r.End > 3*sec+1600+512 {
			t.Errorf("end = %d", r.End)
		}
	})

	t.Run("long pause splits", func(t *testing.T) {
		samples := concat(make([]float32, sec), tone(sec, 0.5), make([]float32, sec), tone(sec, 0.5), make([]float32, sec))
		got := vad.Detect(samples)
		if len(got) != 2 {
			t.Fatalf("got %d ranges: %v", len(got), got)
		}
		if got[0].End > got[1].Start {
			t.Errorf("ranges overlap: %v", got)
		}
	})

	t.Run("short pause does not split", func(t *testing.T) {
		samples := concat(make([]float32, sec), tone(sec, 0.5), make([]float32, sec/5), tone(sec, 0.5), make([]float32, sec))
		if got := vad.Detect(samples); len(got) != 1 {
			t.Fatalf("got %d ranges: %v", len(got), got)
		}
	})

	t.Run("speech shorter than minimum is dropped", func(t *testing.T) {
		samples := concat(make([]float32, sec), tone(sec/10, 0.5), make([]float32, sec))
		if got := vad.Detect(samples); len(got) != 0 {
			t.Fatalf("got %v", got)
		}
	})
}

type fakeDecoder struct {
	samples []float32
	err     error
	calls   int
}

func (f *fakeDecoder) Decode(context.Context, []byte) ([]float32, error) {
	f.calls++
	return f.samples, f.err
}

type fakeDetector struct {
	ranges []model.SpeechRange
	calls  int
}

func (f *fakeDetector) Detect([]float32) []model.SpeechRange {
	f.calls++
	return f.ranges
}

func TestPreprocessor_Prepare(t *testing.T) {
	logger := zerolog.New(nil)
	ctx := context.Background()

	t.Run("tiny input is a no-op", func(t *testing.T) {
		dec := &fakeDecoder{}
		p := NewPreprocessor(dec, &fakeDetector{}, 29*time.Second, &logger)
		segs, err := p.Prepare(ctx, []byte{1, 2, 3})
		if err != nil || segs != nil {
			t.Fatalf("got %v, %v", segs, err)
		}
		if dec.calls != 0 {
			t.Error("decoder should not run")
		}
	})

	t.Run("decode failure", func(t *testing.T) {
		p := NewPreprocessor(&fakeDecoder{err: errors.New("boom")}, &fakeDetector{}, 29*time.Second, &logger)
		if _, err := p.Prepare(ctx, []byte("garbage")); !errors.Is(err, domain.ErrDecodeFailed) {
			t.Fatalf("expected ErrDecodeFailed, got %v", err)
		}
	})

	t.Run("short clip is sent whole", func(t *testing.T) {
		det := &fakeDetector{}
		samples := make([]float32, 10*model.SampleRate)
		p := NewPreprocessor(&fakeDecoder{samples: samples}, det, 29*time.Second, &logger)
		segs, err := p.Prepare(ctx, []byte("audio"))
		if err != nil {
			t.Fatal(err)
		}
		if len(segs) != 1 {
			t.Fatalf("got %d segments", len(segs))
		}
		if segs[0].Range != (model.SpeechRange{Start: 100, End: len(samples)}) {
			t.Errorf("range = %+v", segs[0].Range)
		}
		if len(segs[0].Samples) != len(samples) {
			t.Errorf("segment should carry the whole clip")
		}
		if det.calls != 0 {
			t.Error("detector should not run for short clips")
		}
	})

	t.Run("long clip uses the detector", func(t *testing.T) {
		det := &fakeDetector{ranges: []model.SpeechRange{{Start: 0, End: 1000}, {Start: 5000, End: 9000}}}
		samples := make([]float32, 30*model.SampleRate)
		p := NewPreprocessor(&fakeDecoder{samples: samples}, det, 29*time.Second, &logger)
		segs, err := p.Prepare(ctx, []byte("audio"))
		if err != nil {
			t.Fatal(err)
		}
		if len(segs) != 2 || len(segs[1].Samples) != 4000 {
			t.Fatalf("segments = %+v", segs)
		}
	})

	t.Run("decoded clip of three samples is a no-op", func(t *testing.T) {
		p := NewPreprocessor(&fakeDecoder{samples: []float32{1, 2, 3}}, &fakeDetector{}, 29*time.Second, &logger)
		segs, err := p.Prepare(ctx, []byte("audio"))
		if err != nil || len(segs) != 0 {
			t.Fatalf("got %v, %v", segs, err)
		}
	})
}

package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"audio-assistant/internal/domain/model"
)

// wavHeader is the canonical 44-byte PCM header written by EncodeWAV.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

var errNotWAV = errors.New("not a RIFF/WAVE stream")

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// EncodeWAV renders mono float32 samples as a 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = floatToPCM16(s)
	}
	if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("write wav data: %w", err)
	}
	return buf.Bytes(), nil
}

type wavFormat struct {
	audioFormat   uint16
	channels      int
	sampleRate    int
	bitsPerSample int
}

// DecodeWAV parses 16-bit PCM or 32-bit float WAV data of any channel count
// and rate, and returns mono samples at model.SampleRate.
func DecodeWAV(data []byte) ([]float32, error) {
	if !IsWAV(data) {
		return nil, errNotWAV
	}

	var (
		f       *wavFormat
		payload []byte
	)
	// walk the chunk list; fmt must precede data
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) || size < 0 {
			end = len(data) // truncated streams still carry usable samples
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("wav fmt chunk too short: %d", end-body)
			}
			c := data[body:end]
			f = &wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(c[0:2]),
				channels:      int(binary.LittleEndian.Uint16(c[2:4])),
				sampleRate:    int(binary.LittleEndian.Uint32(c[4:8])),
				bitsPerSample: int(binary.LittleEndian.Uint16(c[14:16])),
			}
		case "data":
			payload = data[body:end]
		}
		if payload != nil {
			break
		}
		off = end + size%2
	}

	if f == nil {
		return nil, fmt.Errorf("invalid wav file: missing fmt chunk")
	}
	if payload == nil {
		return nil, fmt.Errorf("invalid wav file: missing data chunk")
	}
	if f.channels <= 0 || f.sampleRate <= 0 {
		return nil, fmt.Errorf("invalid wav format: %d channels at %d Hz", f.channels, f.sampleRate)
	}

	var interleaved []float32
	switch {
	case f.audioFormat == wavFormatPCM && f.bitsPerSample == 16:
		interleaved = make([]float32, len(payload)/2)
		for i := range interleaved {
			interleaved[i] = float32(int16(binary.LittleEndian.Uint16(payload[2*i:]))) / 32768
		}
	case f.audioFormat == wavFormatFloat && f.bitsPerSample == 32:
		interleaved = make([]float32, len(payload)/4)
		for i := range interleaved {
			interleaved[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
		}
	default:
		return nil, fmt.Errorf("unsupported wav encoding: format %d, %d bits", f.audioFormat, f.bitsPerSample)
	}

	return Resample(downmix(interleaved, f.channels), f.sampleRate, model.SampleRate), nil
}

func downmix(interleaved []float32, channels int) []float32 {
	if channels == 1 {
		return interleaved
	}
	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts between sample rates by linear interpolation.
func Resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j+1 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

func floatToPCM16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(math.Round(float64(s) * 32767))
}

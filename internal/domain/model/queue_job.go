package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"audio-assistant/internal/domain"
)

type JobStatus string

const (
	JobStatusTodo       JobStatus = "TODO"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusDone       JobStatus = "DONE"
	JobStatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusTodo, JobStatusInProgress, JobStatusDone, JobStatusFailed:
		return true
	}
	return false
}

// AudioChunk is one speech segment waiting for transcription.
type AudioChunk struct {
	Key         string
	Samples     []float32
	MainLang    string // language code handed to ASR
	ModelConfig string
}

func NewAudioChunk(samples []float32, mainLang, modelConfig string) (*AudioChunk, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty chunk: %w", domain.ErrInvalidArgument)
	}
	return &AudioChunk{
		Key:         JobKey(samples, mainLang, modelConfig),
		Samples:     samples,
		MainLang:    mainLang,
		ModelConfig: modelConfig,
	}, nil
}

// JobKey is the content identity of a chunk: identical audio, language and
// model configuration always map to the same key.
func JobKey(samples []float32, mainLang, modelConfig string) string {
	h := sha256.New()
	h.Write([]byte(modelConfig))
	h.Write([]byte{'|'})
	h.Write([]byte(mainLang))
	h.Write([]byte{'|'})
	h.Write(EncodeSamples(samples))
	return hex.EncodeToString(h.Sum(nil))
}

// QueueJob is the stored form of a chunk plus its processing state.
type QueueJob struct {
	Key          string
	Samples      []float32
	MainLang     string
	ModelConfig  string
	Status       JobStatus
	Transcript   string
	DetectedLang string
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GroupStatus counts the jobs of one master key by status.
type GroupStatus struct {
	Total      int
	Todo       int
	InProgress int
	Done       int
	Failed     int
}

func (g *GroupStatus) Add(s JobStatus) {
	g.Total++
	switch s {
	case JobStatusTodo:
		g.Todo++
	case JobStatusInProgress:
		g.InProgress++
	case JobStatusDone:
		g.Done++
	case JobStatusFailed:
		g.Failed++
	}
}

// AllDone reports whether the group exists and every job in it is DONE.
func (g GroupStatus) AllDone() bool { return g.Total > 0 && g.Done == g.Total }

// EncodeSamples renders samples as little-endian float32.
func EncodeSamples(samples []float32) []byte {
	b := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(s))
	}
	return b
}

func DecodeSamples(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("sample buffer length %d: %w", len(b), domain.ErrInvalidArgument)
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

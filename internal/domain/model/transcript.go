package model

// SampleRate is the rate every decoded clip is normalised to.
const SampleRate = 16000

// SpeechRange is a half-open range of sample offsets [Start, End).
type SpeechRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// AudioSegment pairs a detected range with the samples sent for transcription.
type AudioSegment struct {
	Range   SpeechRange
	Samples []float32
}

type TranscriptSegment struct {
	NativeText     string  `json:"native_text"`
	StartTimestamp float64 `json:"start_timestamp"`
	StopTimestamp  float64 `json:"stop_timestamp"`
	TargetText     string  `json:"target_text"`
}

// TranscriptSnapshot is the cumulative state of a session at one point of the stream.
type TranscriptSnapshot struct {
	Transcript string              `json:"transcription"`
	Segments   []TranscriptSegment `json:"chunks"`
}

// Clone returns a snapshot that shares no slice memory with s.
func (s TranscriptSnapshot) Clone() TranscriptSnapshot {
	segs := make([]TranscriptSegment, len(s.Segments))
	copy(segs, s.Segments)
	return TranscriptSnapshot{Transcript: s.Transcript, Segments: segs}
}

// SegmentTimestamps converts a range to seconds. The offsets undo the
// padding the detector adds around speech.
func SegmentTimestamps(r SpeechRange) (start, stop float64) {
	return float64(r.Start)/SampleRate - 0.1, float64(r.End)/SampleRate - 0.5
}

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Record datasets written by the assistant.
const (
	DatasetPluginClassification = "plugin_classification"
	DatasetSearchQuery          = "search_query"
	DatasetSearchQuestion       = "search_question"
	DatasetQAAnswer             = "qa_answer"
	DatasetChatAnswer           = "chat_answer"
)

// Record is a text2text log entry: one prompt and what the model made of it.
type Record struct {
	ID         string
	Dataset    string
	Text       string
	Prediction string
	CreatedAt  time.Time
}

func NewRecord(dataset, text, prediction string) *Record {
	return &Record{
		ID:         uuid.NewString(),
		Dataset:    dataset,
		Text:       text,
		Prediction: prediction,
		CreatedAt:  time.Now(),
	}
}

// Feedback is a user's verdict on one assistant output.
type Feedback struct {
	ID         string
	Prompt     string
	Output     string
	OutputHash string
	Liked      bool
	CreatedAt  time.Time
}

func NewFeedback(prompt, output string, liked bool) *Feedback {
	sum := sha256.Sum256([]byte(output))
	return &Feedback{
		ID:         uuid.NewString(),
		Prompt:     prompt,
		Output:     output,
		OutputHash: hex.EncodeToString(sum[:]),
		Liked:      liked,
		CreatedAt:  time.Now(),
	}
}

package adapter

import (
	"context"
	"iter"
)

// GenerateRequest is one completion call against a prompt-style LLM.
type GenerateRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float32
	Stop        []string
}

// LLM is the port for text generation.
type LLM interface {
	// Complete returns the whole generated text.
	Complete(ctx context.Context, req GenerateRequest) (string, error)

	// Stream yields generated text pieces in order. Iteration stops at the
	// first error; breaking out of the loop releases the underlying call.
	Stream(ctx context.Context, req GenerateRequest) iter.Seq2[string, error]
}

// Embedder maps texts to vectors of equal dimension, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Classifier returns the intent label for a text.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

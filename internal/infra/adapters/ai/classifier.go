package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"audio-assistant/internal/domain/ports/adapter"
)

var _ adapter.Classifier = (*HTTPClassifier)(nil)

// HTTPClassifier calls a text-classification endpoint in the Hugging Face
// inference format: {"inputs": text} -> [[{"label", "score"}]].
type HTTPClassifier struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPClassifier(url, apiKey string) (*HTTPClassifier, error) {
	if url == "" {
		return nil, errors.New("classifier: empty url")
	}
	return &HTTPClassifier{url: url, apiKey: apiKey, client: &http.Client{Timeout: 15 * time.Second}}, nil
}

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (string, error) {
	b, _ := json.Marshal(map[string]string{"inputs": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("classifier: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("classifier: read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("classifier http %d", resp.StatusCode)
	}

	// Some servers drop the outer list for single inputs.
	var nested [][]labelScore
	if err := json.Unmarshal(body, &nested); err != nil || len(nested) == 0 {
		var flat []labelScore
		if ferr := json.Unmarshal(body, &flat); ferr != nil {
			return "", fmt.Errorf("classifier: decode: %w", ferr)
		}
		nested = [][]labelScore{flat}
	}
	best := labelScore{Score: -1}
	for _, ls := range nested[0] {
		if ls.Score > best.Score {
			best = ls
		}
	}
	if best.Label == "" {
		return "", errors.New("classifier: no labels")
	}
	return best.Label, nil
}

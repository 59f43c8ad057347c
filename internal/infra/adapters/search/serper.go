package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"audio-assistant/internal/domain/ports/adapter"
)

var _ adapter.SearchEngine = (*SerperClient)(nil)

// SerperClient queries a Serper-compatible web search API.
type SerperClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewSerperClient(endpoint, apiKey string, timeout time.Duration) (*SerperClient, error) {
	if apiKey == "" {
		return nil, errors.New("search: empty api key")
	}
	if endpoint == "" {
		endpoint = "https://google.serper.dev/search"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SerperClient{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: timeout}}, nil
}

type serperResponse struct {
	AnswerBox *struct {
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
	} `json:"answerBox"`
	Organic []struct {
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func (c *SerperClient) Search(ctx context.Context, query string) (*adapter.SearchResult, error) {
	b, _ := json.Marshal(map[string]string{"q": query})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var sr serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("search decode: %w", err)
	}
	out := &adapter.SearchResult{}
	for _, o := range sr.Organic {
		if o.Link != "" {
			out.Links = append(out.Links, o.Link)
		}
		if s := strings.TrimSpace(o.Snippet); s != "" {
			out.Snippets = append(out.Snippets, s)
		}
	}
	if sr.AnswerBox != nil {
		out.DirectAnswer = strings.TrimSpace(sr.AnswerBox.Answer)
		if out.DirectAnswer == "" {
			out.DirectAnswer = strings.TrimSpace(sr.AnswerBox.Snippet)
		}
	}
	return out, nil
}

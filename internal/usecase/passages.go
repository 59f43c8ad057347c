package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"audio-assistant/internal/domain/ports/adapter"
)

const (
	minLineWords = 16
	windowWords  = 200
	maxReranked  = 20

	// windowStep spaces windows for a 1.3 overlap factor: 200 / 1.3, rounded down.
	windowStep = 153

	queryPrefix   = "query: "
	passagePrefix = "passage: "
)

// PageLines keeps the lines of a page that hold at least minLineWords words.
func PageLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if len(strings.Fields(line)) >= minLineWords {
			out = append(out, strings.TrimSpace(line))
		}
	}
	return out
}

// WindowPassages cuts the words of lines into overlapping windows of
// windowWords words.
func WindowPassages(lines []string) []string {
	words := strings.Fields(strings.Join(lines, " "))
	if len(words) == 0 {
		return nil
	}
	var out []string
	for start := 0; start < len(words); start += windowStep {
		end := min(start+windowWords, len(words))
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

// BuildPassages turns fetched pages and the search result itself into the
// candidate passages for re-ranking. Empty candidates are dropped.
func BuildPassages(pages []string, res *adapter.SearchResult) []string {
	var out []string
	for _, page := range pages {
		out = append(out, WindowPassages(PageLines(page))...)
	}
	if res != nil {
		for _, s := range res.Snippets {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		if a := strings.TrimSpace(res.DirectAnswer); a != "" {
			out = append(out, a)
		}
	}
	return out
}

type ScoredPassage struct {
	Text  string
	Score float64
}

// Rerank embeds query and passages and returns at most k passages by
// descending cosine similarity. Equal scores keep input order.
func Rerank(ctx context.Context, emb adapter.Embedder, query string, passages []string, k int) ([]ScoredPassage, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	inputs := make([]string, 0, len(passages)+1)
	inputs = append(inputs, queryPrefix+query)
	for _, p := range passages {
		inputs = append(inputs, passagePrefix+p)
	}
	vecs, err := emb.Embed(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("embed passages: %w", err)
	}
	if len(vecs) != len(inputs) {
		return nil, fmt.Errorf("embed passages: got %d vectors for %d inputs", len(vecs), len(inputs))
	}

	scored := make([]ScoredPassage, len(passages))
	for i, p := range passages {
		scored[i] = ScoredPassage{Text: p, Score: cosine(vecs[0], vecs[i+1])}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// BuildContext joins passages with newlines and cuts the result to limit runes.
func BuildContext(passages []string, limit int) string {
	s := strings.Join(passages, "\n")
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"audio-assistant/internal/domain/ports/adapter"
	"audio-assistant/internal/usecase"
)

func TestRoute(t *testing.T) {
	long := "what happened in berlin today"
	tests := []struct {
		name   string
		label  string
		guards usecase.RouteGuards
		want   string
	}{
		{"open label with search", "open_qa", usecase.RouteGuards{OpenLabels: []string{"open_qa"}, SearchConfigured: true, Query: long}, "search"},
		{"label case insensitive", "OPEN_QA", usecase.RouteGuards{OpenLabels: []string{"open_qa"}, SearchConfigured: true, Query: long}, "search"},
		{"other label", "chat", usecase.RouteGuards{OpenLabels: []string{"open_qa"}, SearchConfigured: true, Query: long}, "local"},
		{"no search credential", "open_qa", usecase.RouteGuards{OpenLabels: []string{"open_qa"}, Query: long}, "local"},
		{"query of ten runes", "open_qa", usecase.RouteGuards{OpenLabels: []string{"open_qa"}, SearchConfigured: true, Query: "0123456789"}, "local"},
		{"query of eleven runes", "open_qa", usecase.RouteGuards{OpenLabels: []string{"open_qa"}, SearchConfigured: true, Query: "01234567890"}, "search"},
		{"runes not bytes", "open_qa", usecase.RouteGuards{OpenLabels: []string{"open_qa"}, SearchConfigured: true, Query: "äöüäöüäöüä"}, "local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := usecase.Route(tt.label, tt.guards)
			if got.Name() != tt.want {
				t.Errorf("Route = %s, want %s", got.Name(), tt.want)
			}
		})
	}

	sp, ok := usecase.Route("open_qa", usecase.RouteGuards{
		OpenLabels: []string{"open_qa"}, SearchConfigured: true, Query: "  " + long + " ", Site: "dw.com",
	}).(usecase.SearchPlugin)
	if !ok || sp.Query != long || sp.Site != "dw.com" {
		t.Errorf("unexpected search plugin %#v", sp)
	}
}

func TestStripStopTokens(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hello", "Hello"},
		{"Hello<|endoftext|>", "Hello"},
		{"Hello \n<|endoftext|>  <|", "Hello"},
		{"Hello<|prompter|><|assistant|>", "Hello"},
		{"a <|endoftext|> b", "a <|endoftext|> b"},
		{"", ""},
	}
	for _, tt := range tests {
		got := usecase.StripStopTokens(tt.in)
		if got != tt.want {
			t.Errorf("StripStopTokens(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := usecase.StripStopTokens(got); again != got {
			t.Errorf("not idempotent for %q: %q then %q", tt.in, got, again)
		}
	}
}

func TestPageLinesAndWindows(t *testing.T) {
	page := strings.Join([]string{
		"Menu Home About",
		words("long", 16),
		words("short", 15),
	}, "\n")
	lines := usecase.PageLines(page)
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "long") {
		t.Fatalf("PageLines = %q", lines)
	}

	var ws []string
	for i := 0; i < 400; i++ {
		ws = append(ws, fmt.Sprintf("x%d", i))
	}
	windows := usecase.WindowPassages([]string{strings.Join(ws, " ")})
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	first := strings.Fields(windows[0])
	second := strings.Fields(windows[1])
	last := strings.Fields(windows[2])
	if len(first) != 200 || second[0] != "x153" || last[0] != "x306" || last[len(last)-1] != "x399" {
		t.Errorf("unexpected windows: %d words, starts %s %s", len(first), second[0], last[0])
	}

	if got := usecase.WindowPassages(nil); got != nil {
		t.Errorf("expected no windows, got %q", got)
	}
}

func TestBuildPassages(t *testing.T) {
	res := &adapter.SearchResult{Snippets: []string{" snippet ", ""}, DirectAnswer: "answer"}
	got := usecase.BuildPassages([]string{words("page", 20)}, res)
	if len(got) != 3 || got[1] != "snippet" || got[2] != "answer" {
		t.Errorf("BuildPassages = %q", got)
	}
}

func TestRerank(t *testing.T) {
	passages := make([]string, 25)
	for i := range passages {
		passages[i] = fmt.Sprintf("p%d", i)
	}
	var seen []string
	emb := &MockEmbedder{EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
		seen = texts
		out := make([][]float32, len(texts))
		out[0] = []float32{1, 0}
		for i := 1; i < len(texts); i++ {
			// later passages point further away from the query
			out[i] = []float32{1, float32(i)}
		}
		return out, nil
	}}

	got, err := usecase.Rerank(context.Background(), emb, "q", passages, 20)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("expected 20 passages, got %d", len(got))
	}
	for i, sp := range got {
		if sp.Text != passages[i] {
			t.Errorf("rank %d = %s, want %s", i, sp.Text, passages[i])
		}
		if i > 0 && sp.Score > got[i-1].Score {
			t.Errorf("scores not descending at %d", i)
		}
	}
	if seen[0] != "query: q" || seen[1] != "passage: p0" {
		t.Errorf("prefixes missing: %q %q", seen[0], seen[1])
	}

	few, _ := usecase.Rerank(context.Background(), emb, "q", passages[:3], 20)
	if len(few) != 3 {
		t.Errorf("expected all 3 passages, got %d", len(few))
	}

	bad := &MockEmbedder{EmbedFunc: func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}}
	if _, err := usecase.Rerank(context.Background(), bad, "q", passages, 20); err == nil {
		t.Error("expected error on vector count mismatch")
	}
}

func TestBuildContext(t *testing.T) {
	if got := usecase.BuildContext([]string{"a", "b"}, 100); got != "a\nb" {
		t.Errorf("BuildContext = %q", got)
	}
	long := strings.Repeat("ü", 9000)
	got := usecase.BuildContext([]string{long}, 8192)
	if utf8.RuneCountInString(got) != 8192 || !utf8.ValidString(got) {
		t.Errorf("expected 8192 valid runes, got %d", utf8.RuneCountInString(got))
	}
}

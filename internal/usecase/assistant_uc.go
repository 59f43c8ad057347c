// File: internal/usecase/assistant_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"audio-assistant/internal/config"
	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/adapter"
	"audio-assistant/internal/domain/ports/repository"
	"audio-assistant/internal/infra/logging"
	"audio-assistant/internal/infra/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Compile-time check
var _ AssistantUseCase = (*assistantUC)(nil)

type AssistantUseCase interface {
	// Decide classifies the conversation and returns the plugin that
	// would answer it.
	Decide(ctx context.Context, conv model.Conversation) (Plugin, error)

	// Answer streams the growing answer to the last user message. Each
	// element is the whole answer so far with stop tokens stripped.
	Answer(ctx context.Context, conv model.Conversation) iter.Seq2[string, error]
}

type assistantUC struct {
	llm        adapter.LLM
	embedder   adapter.Embedder
	classifier adapter.Classifier
	search     adapter.SearchEngine
	fetcher    adapter.PageFetcher
	records    repository.RecordRepository

	openLabels        []string
	answerLanguage    string
	site              string
	topPages          int
	filterConcurrency int

	log *zerolog.Logger
}

// NewAssistantUseCase wires the assistant. search and fetcher may be nil,
// in which case every conversation is answered locally.
func NewAssistantUseCase(
	llm adapter.LLM,
	embedder adapter.Embedder,
	classifier adapter.Classifier,
	search adapter.SearchEngine,
	fetcher adapter.PageFetcher,
	records repository.RecordRepository,
	cfg config.AssistantConfig,
	searchCfg config.SearchConfig,
	logger *zerolog.Logger,
) *assistantUC {
	if classifier == nil {
		classifier = NewPromptClassifier(llm)
	}
	labels := cfg.OpenLabels
	if len(labels) == 0 {
		labels = []string{LabelOpenQA}
	}
	topPages := searchCfg.TopPages
	if topPages <= 0 {
		topPages = 3
	}
	conc := cfg.FilterConcurrency
	if conc <= 0 {
		conc = 4
	}
	if searchCfg.APIKey == "" {
		search = nil
	}
	l := logger.With().Str("component", "assistant").Logger()
	return &assistantUC{
		llm:               llm,
		embedder:          embedder,
		classifier:        classifier,
		search:            search,
		fetcher:           fetcher,
		records:           records,
		openLabels:        labels,
		answerLanguage:    cfg.AnswerLanguage,
		site:              searchCfg.Site,
		topPages:          topPages,
		filterConcurrency: conc,
		log:               &l,
	}
}

func (uc *assistantUC) Decide(ctx context.Context, conv model.Conversation) (Plugin, error) {
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	query, err := uc.deriveQuery(ctx, conv)
	if err != nil {
		return nil, err
	}
	label, err := uc.classifier.Classify(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	uc.record(ctx, model.DatasetPluginClassification, query, label)

	plugin := Route(label, RouteGuards{
		OpenLabels:       uc.openLabels,
		SearchConfigured: uc.search != nil && uc.fetcher != nil,
		Query:            query,
		Site:             uc.site,
	})
	logging.With(ctx, uc.log).Debug().Str("label", label).Str("plugin", plugin.Name()).Msg("routed")
	return plugin, nil
}

// deriveQuery returns the raw message on the first turn and an LLM
// rewrite of the history afterwards.
func (uc *assistantUC) deriveQuery(ctx context.Context, conv model.Conversation) (string, error) {
	last := strings.TrimSpace(conv.LastUserMessage())
	if conv.IsFirstTurn() {
		return last, nil
	}
	history := renderHistory(conv)
	out, err := uc.llm.Complete(ctx, adapter.GenerateRequest{
		Prompt:      queryPrompt(history),
		MaxTokens:   64,
		Temperature: 0.1,
		Stop:        lineStop,
	})
	if err != nil {
		return "", fmt.Errorf("derive query: %w", err)
	}
	query := strings.TrimSpace(StripStopTokens(out))
	uc.record(ctx, model.DatasetSearchQuery, history, query)
	if query == "" {
		return last, nil
	}
	return query, nil
}

// deriveQuestion turns the history into the question the QA prompt answers.
// Any failure falls back to the raw last message.
func (uc *assistantUC) deriveQuestion(ctx context.Context, conv model.Conversation) string {
	last := strings.TrimSpace(conv.LastUserMessage())
	if conv.IsFirstTurn() {
		return last
	}
	history := renderHistory(conv)
	out, err := uc.llm.Complete(ctx, adapter.GenerateRequest{
		Prompt:      questionPrompt(history),
		MaxTokens:   64,
		Temperature: 0.1,
		Stop:        lineStop,
	})
	if err != nil {
		logging.With(ctx, uc.log).Warn().Err(err).Msg("derive question failed")
		return last
	}
	question := strings.TrimSpace(StripStopTokens(out))
	uc.record(ctx, model.DatasetSearchQuestion, history, question)
	if question == "" {
		return last
	}
	return question
}

func (uc *assistantUC) Answer(ctx context.Context, conv model.Conversation) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		log := logging.With(ctx, uc.log)
		defer logging.TraceDuration(log, "AssistantUC.Answer")()

		plugin, err := uc.Decide(ctx, conv)
		if err != nil {
			yield("", err)
			return
		}
		metrics.IncAssistantRoute(plugin.Name())

		var (
			req     adapter.GenerateRequest
			dataset string
		)
		switch p := plugin.(type) {
		case SearchPlugin:
			passages, err := uc.retrieve(ctx, p)
			if err != nil {
				yield("", err)
				return
			}
			question := uc.deriveQuestion(ctx, conv)
			req = adapter.GenerateRequest{
				Prompt:      qaPrompt(BuildContext(passages, maxContextRunes), question, uc.answerLanguage),
				MaxTokens:   answerMaxTokens,
				Temperature: 0.1,
				Stop:        answerStop,
			}
			dataset = model.DatasetQAAnswer
		default:
			req = adapter.GenerateRequest{
				Prompt:      localPrompt(conv),
				MaxTokens:   answerMaxTokens,
				Temperature: 0.6,
				Stop:        answerStop,
			}
			dataset = model.DatasetChatAnswer
		}

		var (
			text     strings.Builder
			produced bool
		)
		for piece, err := range uc.llm.Stream(ctx, req) {
			if err != nil {
				yield(StripStopTokens(text.String()), fmt.Errorf("generate answer: %w", err))
				return
			}
			text.WriteString(piece)
			produced = true
			if !yield(StripStopTokens(text.String()), nil) {
				return
			}
		}
		answer := StripStopTokens(text.String())
		if !produced {
			yield(answer, nil)
		}
		uc.record(ctx, dataset, req.Prompt, answer)
	}
}

// retrieve runs search, fetch, re-rank and the relevance filter and returns
// the surviving passages in score order.
func (uc *assistantUC) retrieve(ctx context.Context, p SearchPlugin) ([]string, error) {
	log := logging.With(ctx, uc.log)
	q := p.Query
	if p.Site != "" {
		q = "site:" + p.Site + " " + q
	}
	res, err := uc.search.Search(ctx, q)
	if err != nil {
		metrics.IncSearchFailure("search")
		return nil, fmt.Errorf("%w: %w", domain.ErrSearchUnavailable, err)
	}

	links := res.Links
	if len(links) > uc.topPages {
		links = links[:uc.topPages]
	}
	pages := uc.fetchPages(ctx, links)

	candidates := BuildPassages(pages, res)
	metrics.ObservePassages("candidates", len(candidates))

	ranked, err := Rerank(ctx, uc.embedder, p.Query, candidates, maxReranked)
	if err != nil {
		metrics.IncSearchFailure("rerank")
		return nil, err
	}
	metrics.ObservePassages("reranked", len(ranked))

	kept := uc.filterRelevant(ctx, p.Query, ranked)
	metrics.ObservePassages("relevant", len(kept))
	log.Debug().
		Int("pages", len(pages)).
		Int("candidates", len(candidates)).
		Int("relevant", len(kept)).
		Msg("retrieval finished")
	return kept, nil
}

// fetchPages downloads links concurrently. Pages that fail are skipped.
func (uc *assistantUC) fetchPages(ctx context.Context, links []string) []string {
	pages := make([]string, len(links))
	var g errgroup.Group
	for i, link := range links {
		g.Go(func() error {
			text, err := uc.fetcher.FetchText(ctx, link)
			if err != nil {
				metrics.IncSearchFailure("fetch")
				logging.With(ctx, uc.log).Warn().Err(err).Str("url", link).Msg("page fetch failed")
				return nil
			}
			pages[i] = text
			return nil
		})
	}
	_ = g.Wait()

	out := pages[:0]
	for _, p := range pages {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// filterRelevant asks the LLM about each passage and keeps those labeled
// relevant. A failed call drops the passage.
func (uc *assistantUC) filterRelevant(ctx context.Context, question string, ranked []ScoredPassage) []string {
	keep := make([]bool, len(ranked))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.filterConcurrency)
	for i, sp := range ranked {
		g.Go(func() error {
			out, err := uc.llm.Complete(gctx, adapter.GenerateRequest{
				Prompt:      relevancePrompt(question, sp.Text),
				MaxTokens:   3,
				Temperature: 0.1,
				Stop:        lineStop,
			})
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					metrics.IncSearchFailure("filter")
					logging.With(ctx, uc.log).Warn().Err(err).Msg("relevance check failed")
				}
				return nil
			}
			keep[i] = strings.HasPrefix(strings.ToLower(strings.TrimSpace(out)), "relevant")
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	for i, sp := range ranked {
		if keep[i] {
			out = append(out, sp.Text)
		}
	}
	return out
}

// record writes one interaction to the record log. Failures are logged only.
func (uc *assistantUC) record(ctx context.Context, dataset, text, prediction string) {
	if uc.records == nil {
		return
	}
	if err := uc.records.Log(ctx, nil, model.NewRecord(dataset, text, prediction)); err != nil {
		logging.With(ctx, uc.log).Warn().Err(err).Str("dataset", dataset).Msg("record log failed")
	}
}

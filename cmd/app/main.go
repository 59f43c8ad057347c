// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"audio-assistant/internal/config"
	"audio-assistant/internal/domain/ports/adapter"
	"audio-assistant/internal/domain/ports/repository"
	aiAdapters "audio-assistant/internal/infra/adapters/ai"
	"audio-assistant/internal/infra/adapters/search"
	tele "audio-assistant/internal/infra/adapters/telegram"
	"audio-assistant/internal/infra/api"
	"audio-assistant/internal/infra/api/apiv1"
	pg "audio-assistant/internal/infra/db/postgres"
	"audio-assistant/internal/infra/i18n"
	"audio-assistant/internal/infra/logging"
	"audio-assistant/internal/infra/media"
	"audio-assistant/internal/infra/memstore"
	"audio-assistant/internal/infra/metrics"
	red "audio-assistant/internal/infra/redis"
	"audio-assistant/internal/infra/worker"
	"audio-assistant/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop AI allowed)")
	mode := flag.String("mode", config.ModeAll, "process mode: server|worker|all")
	mintFor := flag.String("mint-token", "", "print an API token for the given subject and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Runtime.Mode = *mode
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	if *mintFor != "" {
		auth, err := api.NewAuthManager(cfg.Auth.Secret, cfg.Auth.TokenTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("auth")
		}
		tok, err := auth.Mint(*mintFor)
		if err != nil {
			logger.Fatal().Err(err).Msg("mint token")
		}
		fmt.Println(tok)
		return
	}

	if err := cfg.Validate(*mode); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, *mode)
	logger.Info().Str("version", version).Str("mode", *mode).Bool("dev", cfg.Runtime.Dev).Msg("starting")

	if err := run(ctx, cfg, *mode, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("exited with error")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, mode string, logger *zerolog.Logger) error {
	// ---- Postgres ----
	var pool *pgxpool.Pool
	if cfg.Database.URL != "" {
		p, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer p.Close()
		pool = p
		go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)
	}

	// ---- Redis ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer c.Close()
		redisClient = c
	}

	// ---- Job queue ----
	var queue repository.JobQueue
	switch cfg.Queue.Backend {
	case config.QueueRedis:
		queue = red.NewJobQueue(redisClient, cfg.Queue.Prefix)
	case config.QueuePostgres:
		queue = pg.NewJobQueueRepo(pool, pg.NewTxManager(pool))
	default:
		queue = memstore.NewJobQueue()
	}
	logger.Info().Str("backend", cfg.Queue.Backend).Msg("job queue ready")

	// ---- AI adapters ----
	asr, err := buildASR(cfg)
	if err != nil {
		return err
	}

	tw := worker.NewTranscriptionWorker(queue, asr, cfg.Worker, logger)
	if mode != config.ModeServer {
		workers := worker.NewPool(cfg.Worker.Concurrency, logger)
		workers.Start(ctx)
		defer workers.Stop()
		if err := tw.Start(ctx, workers, cfg.Worker.Concurrency); err != nil {
			return err
		}
	}
	if mode == config.ModeWorker {
		<-ctx.Done()
		return nil
	}

	return serve(ctx, cfg, queue, tw, pool, redisClient, logger)
}

// serve runs the HTTP API and, when a token is configured, the Telegram bot.
func serve(
	ctx context.Context,
	cfg *config.Config,
	queue repository.JobQueue,
	tw *worker.TranscriptionWorker,
	pool *pgxpool.Pool,
	redisClient *red.Client,
	logger *zerolog.Logger,
) error {
	llm, embedder, err := buildLLM(ctx, cfg)
	if err != nil {
		return err
	}
	var translator adapter.Translator
	trKey := firstNonEmpty(cfg.AI.Translation.APIKey, cfg.AI.OpenAIKey)
	trURL := firstNonEmpty(cfg.AI.Translation.BaseURL, cfg.AI.OpenAIBaseURL)
	switch {
	case cfg.AI.Provider == "noop":
		translator = aiAdapters.NewNoopAI()
	case trKey != "" || trURL != "":
		translator, err = aiAdapters.NewChatTranslator(trKey, trURL, cfg.AI.Translation.Model)
		if err != nil {
			return err
		}
	default:
		logger.Warn().Msg("no translation endpoint configured; target_lang is ignored")
	}
	var classifier adapter.Classifier
	if cfg.AI.Classifier.URL != "" {
		c, err := aiAdapters.NewHTTPClassifier(cfg.AI.Classifier.URL, cfg.AI.Classifier.APIKey)
		if err != nil {
			return err
		}
		classifier = c
	}

	// ---- Search ----
	var engine adapter.SearchEngine
	if cfg.Search.APIKey != "" {
		s, err := search.NewSerperClient(cfg.Search.Endpoint, cfg.Search.APIKey, cfg.Search.Timeout)
		if err != nil {
			return err
		}
		engine = s
	}
	fetcher := search.NewHTMLFetcher(cfg.Search.Timeout)

	// ---- Repositories ----
	var records repository.RecordRepository = memstore.NewRecordRepo()
	if pool != nil {
		records = pg.NewRecordRepo(pool)
	}
	var history repository.ChatHistoryRepository = memstore.NewChatHistory(20)
	var limiter *red.RateLimiter
	if redisClient != nil {
		history = red.NewChatCache(redisClient, cfg.Redis.TTL, 20)
		limiter = red.NewRateLimiter(redisClient)
	}

	// ---- Use cases ----
	decoder := media.NewFFmpegDecoder(cfg.Media.FFmpegPath, cfg.Media.DecodeTimeout, logger)
	vad := media.NewEnergyVAD(media.VADOptions{
		Threshold:  cfg.Media.VADThreshold,
		MinSpeech:  cfg.Media.MinSpeech,
		MinSilence: cfg.Media.MinSilence,
		SpeechPad:  cfg.Media.SpeechPad,
		Reference:  cfg.Media.EnergyReference,
	})
	pre := media.NewPreprocessor(decoder, vad, cfg.Media.LongClip, logger)

	var drainer usecase.QueueDrainer
	if cfg.Session.Assist {
		drainer = tw
	}
	sessionUC := usecase.NewSessionUseCase(pre, queue, translator, drainer, cfg.Session, logger)
	assistantUC := usecase.NewAssistantUseCase(llm, embedder, classifier, engine, fetcher, records,
		cfg.Assistant, cfg.Search, logger)
	feedbackUC := usecase.NewFeedbackUseCase(records)

	// ---- HTTP ----
	var auth *api.AuthManager
	if cfg.Auth.Secret != "" {
		auth, err = api.NewAuthManager(cfg.Auth.Secret, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
	} else {
		logger.Warn().Msg("auth.secret is empty; /api/v1 is unauthenticated")
	}
	rc := api.RouterConfig{
		Auth:       auth,
		RateLimit:  cfg.Assistant.RateLimit,
		RateWindow: cfg.Assistant.RateWindow,
		Timeout:    cfg.HTTP.StreamTimeout,
	}
	if limiter != nil {
		rc.Limiter = limiter
	}
	if pool != nil {
		rc.HealthCheck = func(ctx context.Context) error { return pool.Ping(ctx) }
	} else if redisClient != nil {
		rc.HealthCheck = redisClient.Ping
	}
	v1 := apiv1.NewServer(sessionUC, assistantUC, feedbackUC, queue, logger,
		apiv1.WithMaxUpload(cfg.HTTP.MaxUploadMB<<20),
		apiv1.WithWebsocketAnswerTimeout(cfg.HTTP.StreamTimeout))
	srv := api.NewServer(cfg.HTTP.Addr, api.NewRouter(v1, rc, logger), logger)

	var wg sync.WaitGroup
	errc := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	// ---- Telegram ----
	if cfg.Bot.Token != "" {
		tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Bot.Language)
		if err != nil {
			return err
		}
		botPool := worker.NewPool(cfg.Bot.Workers, logger)
		botPool.Start(ctx)
		defer botPool.Stop()
		deps := tele.Deps{
			Session:   sessionUC,
			Assistant: assistantUC,
			History:   history,
			Pool:      botPool,
			Tr:        tr,
		}
		if limiter != nil {
			deps.Limiter = limiter
		}
		bot, err := tele.NewBot(cfg.Bot, cfg.Assistant, 20, deps, logger)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errc <- fmt.Errorf("telegram: %w", err)
			}
		}()
	}

	// ---- Graceful shutdown ----
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case runErr = <-errc:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	return runErr
}

func buildLLM(ctx context.Context, cfg *config.Config) (adapter.LLM, adapter.Embedder, error) {
	if cfg.AI.Provider == "noop" {
		noop := aiAdapters.NewNoopAI()
		return noop, noop, nil
	}
	byProvider := map[string]adapter.LLM{}
	var embedders = map[string]adapter.Embedder{}
	if cfg.AI.OpenAIKey != "" || cfg.AI.OpenAIBaseURL != "" {
		o, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.LLMModel, cfg.AI.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		byProvider["openai"], embedders["openai"] = o, o
	}
	if cfg.AI.GeminiKey != "" {
		model := ""
		if cfg.AI.Provider == "gemini" {
			model = cfg.AI.LLMModel
		}
		g, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, model, "")
		if err != nil {
			return nil, nil, err
		}
		byProvider["gemini"], embedders["gemini"] = g, g
	}
	multi, err := aiAdapters.NewMultiLLM(cfg.AI.Provider, byProvider)
	if err != nil {
		return nil, nil, err
	}
	// Embeddings must come from one model so vectors stay comparable.
	emb, ok := embedders[cfg.AI.Provider]
	if !ok {
		return nil, nil, fmt.Errorf("no embedder for provider %q", cfg.AI.Provider)
	}
	return aiAdapters.NewLimitedLLM(multi, cfg.AI.ConcurrentLimit), emb, nil
}

func buildASR(cfg *config.Config) (adapter.ASR, error) {
	if cfg.AI.Provider == "noop" && cfg.AI.ASR.BaseURL == "" {
		return aiAdapters.NewNoopAI(), nil
	}
	return aiAdapters.NewWhisperASR(
		firstNonEmpty(cfg.AI.ASR.APIKey, cfg.AI.OpenAIKey),
		cfg.AI.ASR.BaseURL,
		cfg.AI.ASR.Models)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

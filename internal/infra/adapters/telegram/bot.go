package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"audio-assistant/internal/config"
	"audio-assistant/internal/domain/ports/repository"
	"audio-assistant/internal/infra/i18n"
	"audio-assistant/internal/infra/logging"
	"audio-assistant/internal/infra/metrics"
	"audio-assistant/internal/infra/worker"
	"audio-assistant/internal/usecase"
)

// botAPI is the part of tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ botAPI = (*tgbotapi.BotAPI)(nil)

// Limiter is the fixed-window limiter implemented by the redis package.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Deps struct {
	Session   usecase.SessionUseCase
	Assistant usecase.AssistantUseCase
	History   repository.ChatHistoryRepository
	Limiter   Limiter // optional
	Pool      *worker.Pool
	Tr        *i18n.Translator
}

// Bot answers voice messages with transcripts and text with the assistant.
type Bot struct {
	api       botAPI
	deps      Deps
	cfg       config.BotConfig
	rateLimit int
	window    time.Duration
	maxFileMB int64
	http      *http.Client
	log       *zerolog.Logger
}

// NewBot connects to the Telegram API with cfg.Token.
func NewBot(cfg config.BotConfig, rate config.AssistantConfig, maxFileMB int64, deps Deps, logger *zerolog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("bot token is empty")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newBot(api, cfg, rate, maxFileMB, deps, logger)
}

func newBot(api botAPI, cfg config.BotConfig, rate config.AssistantConfig, maxFileMB int64, deps Deps, logger *zerolog.Logger) (*Bot, error) {
	switch {
	case deps.Session == nil, deps.Assistant == nil:
		return nil, errors.New("bot: use cases are required")
	case deps.History == nil:
		return nil, errors.New("bot: history store is required")
	case deps.Pool == nil:
		return nil, errors.New("bot: worker pool is required")
	case deps.Tr == nil:
		return nil, errors.New("bot: translator is required")
	}
	if maxFileMB <= 0 {
		// Bot API downloads stop at 20 MB.
		maxFileMB = 20
	}
	l := logger.With().Str("component", "telegram").Logger()
	return &Bot{
		api:       api,
		deps:      deps,
		cfg:       cfg,
		rateLimit: rate.RateLimit,
		window:    rate.RateWindow,
		maxFileMB: maxFileMB,
		http:      &http.Client{Timeout: time.Minute},
		log:       &l,
	}, nil
}

// Run polls updates until ctx ends. Each update is handled on the pool;
// updates that find the pool saturated are dropped.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.log.Info().Int("workers", b.deps.Pool.Size()).Str("lang", b.deps.Tr.Lang()).Msg("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			err := b.deps.Pool.Submit(func(ctx context.Context) error {
				return b.handleUpdate(ctx, up)
			})
			if err != nil {
				b.log.Warn().Err(err).Int("update_id", up.UpdateID).Msg("update dropped")
			}
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, up tgbotapi.Update) error {
	msg := up.Message
	if msg == nil || msg.Chat == nil {
		metrics.IncBotUpdate("other")
		return nil
	}
	ctx = logging.WithChatID(ctx, msg.Chat.ID)

	switch {
	case msg.IsCommand():
		metrics.IncBotUpdate("command")
		return b.handleCommand(ctx, msg)
	case msg.Voice != nil || msg.Audio != nil || isAudioDocument(msg.Document):
		metrics.IncBotUpdate("voice")
		if !b.allow(ctx, msg.Chat.ID, "voice") {
			return b.reply(msg.Chat.ID, b.deps.Tr.T("rate_limited"))
		}
		return b.handleVoice(ctx, msg)
	case msg.Text != "":
		metrics.IncBotUpdate("text")
		if !b.allow(ctx, msg.Chat.ID, "assistant") {
			return b.reply(msg.Chat.ID, b.deps.Tr.T("rate_limited"))
		}
		return b.handleText(ctx, msg)
	default:
		metrics.IncBotUpdate("other")
		return b.reply(msg.Chat.ID, b.deps.Tr.T("unsupported_file"))
	}
}

func (b *Bot) allow(ctx context.Context, chatID int64, scope string) bool {
	if b.deps.Limiter == nil || b.rateLimit <= 0 {
		return true
	}
	ok, err := b.deps.Limiter.Allow(ctx, chatRateKey(chatID, scope), b.rateLimit, b.window)
	if err != nil {
		logging.With(ctx, b.log).Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return ok
}

func (b *Bot) reply(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// download fetches a Telegram file, refusing anything above maxFileMB.
func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: http %d", resp.StatusCode)
	}
	limit := b.maxFileMB << 20
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errFileTooLarge
	}
	return data, nil
}

var errFileTooLarge = errors.New("file too large")

func isAudioDocument(d *tgbotapi.Document) bool {
	if d == nil {
		return false
	}
	switch d.MimeType {
	case "audio/mpeg", "audio/ogg", "audio/wav", "audio/x-wav", "audio/mp4", "audio/flac", "audio/webm", "video/mp4", "video/webm":
		return true
	}
	return false
}

package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/infra/logging"
	"audio-assistant/internal/infra/redis"
	"audio-assistant/internal/usecase"
)

type commandHandler func(ctx context.Context, msg *tgbotapi.Message) error

func (b *Bot) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start": b.handleStartCommand,
		"help":  b.handleHelpCommand,
		"reset": b.handleResetCommand,
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	if h, ok := b.commandRoutes()[msg.Command()]; ok {
		return h(ctx, msg)
	}
	return b.handleHelpCommand(ctx, msg)
}

func (b *Bot) handleStartCommand(_ context.Context, msg *tgbotapi.Message) error {
	return b.reply(msg.Chat.ID, b.deps.Tr.T("welcome"))
}

func (b *Bot) handleHelpCommand(_ context.Context, msg *tgbotapi.Message) error {
	return b.reply(msg.Chat.ID, b.deps.Tr.T("help"))
}

func (b *Bot) handleResetCommand(ctx context.Context, msg *tgbotapi.Message) error {
	if err := b.deps.History.Clear(ctx, msg.Chat.ID); err != nil {
		return err
	}
	return b.reply(msg.Chat.ID, b.deps.Tr.T("reset_done"))
}

func fileIDOf(msg *tgbotapi.Message) string {
	switch {
	case msg.Voice != nil:
		return msg.Voice.FileID
	case msg.Audio != nil:
		return msg.Audio.FileID
	case msg.Document != nil:
		return msg.Document.FileID
	}
	return ""
}

// handleVoice transcribes the attached audio, editing one reply message as
// the transcript grows.
func (b *Bot) handleVoice(ctx context.Context, msg *tgbotapi.Message) error {
	log := logging.With(ctx, b.log)
	chatID := msg.Chat.ID

	audio, err := b.download(ctx, fileIDOf(msg))
	if errors.Is(err, errFileTooLarge) {
		return b.reply(chatID, b.deps.Tr.T("file_too_large", b.maxFileMB))
	}
	if err != nil {
		log.Error().Err(err).Msg("voice download failed")
		return b.reply(chatID, b.deps.Tr.T("transcription_failed"))
	}

	ed, err := b.newEditor(chatID, b.deps.Tr.T("transcribing"))
	if err != nil {
		return err
	}
	req := usecase.TranscribeRequest{
		Audio:       audio,
		MainLang:    b.cfg.TranscribeLang,
		ModelConfig: b.cfg.ModelConfig,
	}
	var last model.TranscriptSnapshot
	for snap, err := range b.deps.Session.Transcribe(ctx, req) {
		if err != nil {
			log.Error().Err(err).Msg("transcription failed")
			return ed.finish(b.deps.Tr.T("transcription_failed"))
		}
		last = snap
		if t := strings.TrimSpace(snap.Transcript); t != "" {
			ed.update(t)
		}
	}
	text := strings.TrimSpace(last.Transcript)
	if text == "" {
		text = b.deps.Tr.T("no_speech")
	}
	return ed.finish(text)
}

// handleText answers with the assistant over the chat's stored history.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) error {
	log := logging.With(ctx, b.log)
	chatID := msg.Chat.ID

	conv, err := b.deps.History.Get(ctx, chatID)
	if err != nil {
		log.Warn().Err(err).Msg("chat history unavailable, starting fresh")
		conv = &model.Conversation{}
	}
	conv.Append(model.RoleUser, msg.Text)

	ed, err := b.newEditor(chatID, b.deps.Tr.T("thinking"))
	if err != nil {
		return err
	}
	var answer string
	for text, err := range b.deps.Assistant.Answer(ctx, *conv) {
		if err != nil {
			log.Error().Err(err).Msg("assistant failed")
			return ed.finish(b.deps.Tr.T("assistant_failed"))
		}
		answer = text
		if strings.TrimSpace(text) != "" {
			ed.update(text)
		}
	}
	if strings.TrimSpace(answer) == "" {
		return ed.finish(b.deps.Tr.T("assistant_failed"))
	}
	if err := ed.finish(answer); err != nil {
		return err
	}
	conv.Append(model.RoleAssistant, answer)
	if err := b.deps.History.Save(ctx, chatID, conv); err != nil {
		log.Warn().Err(err).Msg("save chat history failed")
	}
	return nil
}

func chatRateKey(chatID int64, scope string) string { return redis.ChatKey(chatID, scope) }

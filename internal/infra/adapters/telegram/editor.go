package telegram

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageRunes is Telegram's limit for one message text.
const maxMessageRunes = 4096

// editor keeps one bot message in sync with a growing text. Intermediate
// edits are throttled; finish always writes the final text.
type editor struct {
	api      botAPI
	chatID   int64
	msgID    int
	shown    string
	lastEdit time.Time
	interval time.Duration
	now      func() time.Time
}

func (b *Bot) newEditor(chatID int64, placeholder string) (*editor, error) {
	m, err := b.api.Send(tgbotapi.NewMessage(chatID, placeholder))
	if err != nil {
		return nil, err
	}
	return &editor{
		api:      b.api,
		chatID:   chatID,
		msgID:    m.MessageID,
		shown:    placeholder,
		lastEdit: time.Now(),
		interval: b.cfg.EditInterval,
		now:      time.Now,
	}, nil
}

// update edits the message unless the last edit is too recent. Edit
// errors are ignored; the next update or finish retries.
func (e *editor) update(text string) {
	if e.now().Sub(e.lastEdit) < e.interval {
		return
	}
	_ = e.edit(text)
}

func (e *editor) finish(text string) error {
	return e.edit(text)
}

func (e *editor) edit(text string) error {
	text = clip(text)
	if text == e.shown {
		return nil
	}
	if _, err := e.api.Send(tgbotapi.NewEditMessageText(e.chatID, e.msgID, text)); err != nil {
		return err
	}
	e.shown = text
	e.lastEdit = e.now()
	return nil
}

// clip keeps the tail of text within the message limit; the newest part of
// a growing transcript is what the reader is waiting for.
func clip(text string) string {
	r := []rune(text)
	if len(r) <= maxMessageRunes {
		return text
	}
	return "…" + string(r[len(r)-maxMessageRunes+1:])
}

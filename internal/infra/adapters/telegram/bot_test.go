//go:build !integration

package telegram

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"audio-assistant/internal/config"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/infra/i18n"
	"audio-assistant/internal/infra/memstore"
	"audio-assistant/internal/infra/worker"
	"audio-assistant/internal/usecase"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []string
	fileURL string
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.sent = append(f.sent, m.Text)
	case tgbotapi.EditMessageTextConfig:
		f.sent = append(f.sent, "edit:"+m.Text)
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) GetFileDirectURL(string) (string, error) { return f.fileURL, nil }

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAPI) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeSession struct {
	TranscribeFunc func(ctx context.Context, req usecase.TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error]
}

func (f *fakeSession) Transcribe(ctx context.Context, req usecase.TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error] {
	return f.TranscribeFunc(ctx, req)
}

type fakeAssistant struct {
	AnswerFunc func(ctx context.Context, conv model.Conversation) iter.Seq2[string, error]
}

func (f *fakeAssistant) Decide(context.Context, model.Conversation) (usecase.Plugin, error) {
	return usecase.LocalPlugin{}, nil
}

func (f *fakeAssistant) Answer(ctx context.Context, conv model.Conversation) iter.Seq2[string, error] {
	return f.AnswerFunc(ctx, conv)
}

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return f.allow, nil
}

func seq[T any](err error, vals ...T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, v := range vals {
			if !yield(v, nil) {
				return
			}
		}
		if err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

type fixture struct {
	bot     *Bot
	api     *fakeAPI
	history *memstore.ChatHistory
	sess    *fakeSession
	asst    *fakeAssistant
	gotReq  usecase.TranscribeRequest
}

func newFixture(t *testing.T, limiter Limiter) *fixture {
	t.Helper()
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		t.Fatalf("translator: %v", err)
	}
	l := zerolog.New(io.Discard)
	f := &fixture{
		api:     &fakeAPI{updates: make(chan tgbotapi.Update, 4)},
		history: memstore.NewChatHistory(10),
		asst:    &fakeAssistant{},
	}
	f.sess = &fakeSession{}
	bot, err := newBot(f.api,
		config.BotConfig{TranscribeLang: "de", ModelConfig: "large"},
		config.AssistantConfig{RateLimit: 1, RateWindow: time.Minute},
		1,
		Deps{
			Session:   f.sess,
			Assistant: f.asst,
			History:   f.history,
			Limiter:   limiter,
			Pool:      worker.NewPool(1, &l),
			Tr:        tr,
		}, &l)
	if err != nil {
		t.Fatalf("newBot: %v", err)
	}
	f.bot = bot
	return f
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}}
}

func commandUpdate(chatID int64, cmd string) tgbotapi.Update {
	u := textUpdate(chatID, "/"+cmd)
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd) + 1}}
	return u
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBot_Commands(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := &model.Conversation{}
	conv.Append(model.RoleUser, "hi")
	_ = f.history.Save(ctx, 7, conv)

	for _, cmd := range []string{"start", "help", "reset", "unknown"} {
		if err := f.bot.handleUpdate(ctx, commandUpdate(7, cmd)); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}
	tr := f.bot.deps.Tr
	want := []string{tr.T("welcome"), tr.T("help"), tr.T("reset_done"), tr.T("help")}
	if got := f.api.messages(); !equal(got, want) {
		t.Fatalf("messages = %q, want %q", got, want)
	}
	got, _ := f.history.Get(ctx, 7)
	if len(got.Turns) != 0 {
		t.Fatalf("history not cleared: %+v", got)
	}
}

func TestBot_TextKeepsHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	var seen []model.Conversation
	f.asst.AnswerFunc = func(_ context.Context, conv model.Conversation) iter.Seq2[string, error] {
		seen = append(seen, conv)
		return seq[string](nil, "Hel", "Hello")
	}

	if err := f.bot.handleUpdate(ctx, textUpdate(9, "hi")); err != nil {
		t.Fatal(err)
	}
	if err := f.bot.handleUpdate(ctx, textUpdate(9, "again")); err != nil {
		t.Fatal(err)
	}

	if len(seen) != 2 || len(seen[1].Turns) != 3 {
		t.Fatalf("second call should see prior turns, got %+v", seen)
	}
	if seen[1].Turns[1] != (model.ConversationTurn{Role: model.RoleAssistant, Text: "Hello"}) {
		t.Fatalf("assistant turn = %+v", seen[1].Turns[1])
	}
	msgs := f.api.messages()
	if msgs[0] != f.bot.deps.Tr.T("thinking") || msgs[len(msgs)-1] != "edit:Hello" {
		t.Fatalf("messages = %q", msgs)
	}
}

func TestBot_TextFailureDoesNotSave(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.asst.AnswerFunc = func(context.Context, model.Conversation) iter.Seq2[string, error] {
		return seq(errors.New("llm down"), "partial")
	}
	if err := f.bot.handleUpdate(ctx, textUpdate(3, "hi")); err != nil {
		t.Fatal(err)
	}
	msgs := f.api.messages()
	if msgs[len(msgs)-1] != "edit:"+f.bot.deps.Tr.T("assistant_failed") {
		t.Fatalf("messages = %q", msgs)
	}
	got, _ := f.history.Get(ctx, 3)
	if len(got.Turns) != 0 {
		t.Fatalf("failed answer was saved: %+v", got)
	}
}

func TestBot_RateLimited(t *testing.T) {
	f := newFixture(t, fakeLimiter{allow: false})
	f.asst.AnswerFunc = func(context.Context, model.Conversation) iter.Seq2[string, error] {
		t.Fatal("assistant called while limited")
		return nil
	}
	if err := f.bot.handleUpdate(context.Background(), textUpdate(1, "hi")); err != nil {
		t.Fatal(err)
	}
	if got := f.api.messages(); !equal(got, []string{f.bot.deps.Tr.T("rate_limited")}) {
		t.Fatalf("messages = %q", got)
	}
}

func TestBot_Voice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OggS-audio"))
	}))
	defer srv.Close()

	f := newFixture(t, nil)
	f.api.fileURL = srv.URL + "/voice.oga"
	var gotAudio string
	f.sess.TranscribeFunc = func(_ context.Context, req usecase.TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error] {
		f.gotReq = req
		gotAudio = string(req.Audio)
		return seq[model.TranscriptSnapshot](nil,
			model.TranscriptSnapshot{Transcript: "Hallo"},
			model.TranscriptSnapshot{Transcript: "Hallo\nWelt"},
		)
	}
	up := tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 5},
		Voice: &tgbotapi.Voice{FileID: "abc"},
	}}
	if err := f.bot.handleUpdate(context.Background(), up); err != nil {
		t.Fatal(err)
	}
	if gotAudio != "OggS-audio" {
		t.Fatalf("audio = %q", gotAudio)
	}
	if f.gotReq.MainLang != "de" || f.gotReq.ModelConfig != "large" {
		t.Fatalf("request = %+v", f.gotReq)
	}
	want := []string{f.bot.deps.Tr.T("transcribing"), "edit:Hallo", "edit:Hallo\nWelt"}
	if got := f.api.messages(); !equal(got, want) {
		t.Fatalf("messages = %q, want %q", got, want)
	}
}

func TestBot_VoiceNoSpeechAndTooLarge(t *testing.T) {
	big := make([]byte, 1<<20+1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big" {
			_, _ = w.Write(big)
			return
		}
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := newFixture(t, nil)
	f.sess.TranscribeFunc = func(context.Context, usecase.TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error] {
		return seq[model.TranscriptSnapshot](nil, model.TranscriptSnapshot{})
	}
	voice := tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 5}, Voice: &tgbotapi.Voice{FileID: "v"}}}

	f.api.fileURL = srv.URL + "/small"
	if err := f.bot.handleUpdate(context.Background(), voice); err != nil {
		t.Fatal(err)
	}
	f.api.fileURL = srv.URL + "/big"
	if err := f.bot.handleUpdate(context.Background(), voice); err != nil {
		t.Fatal(err)
	}

	tr := f.bot.deps.Tr
	want := []string{tr.T("transcribing"), "edit:" + tr.T("no_speech"), tr.T("file_too_large", 1)}
	if got := f.api.messages(); !equal(got, want) {
		t.Fatalf("messages = %q, want %q", got, want)
	}
}

func TestEditor_Throttle(t *testing.T) {
	api := &fakeAPI{}
	now := time.Unix(0, 0)
	e := &editor{api: api, chatID: 1, msgID: 1, shown: "…", lastEdit: now, interval: time.Second,
		now: func() time.Time { return now }}

	e.update("a") // too soon
	now = now.Add(2 * time.Second)
	e.update("ab")
	e.update("abc") // too soon again
	if err := e.finish("abc"); err != nil {
		t.Fatal(err)
	}
	if err := e.finish("abc"); err != nil { // unchanged
		t.Fatal(err)
	}
	if got := api.messages(); !equal(got, []string{"edit:ab", "edit:abc"}) {
		t.Fatalf("edits = %q", got)
	}
}

func TestClip(t *testing.T) {
	long := make([]rune, maxMessageRunes+10)
	for i := range long {
		long[i] = 'a'
	}
	long[len(long)-1] = 'z'
	got := []rune(clip(string(long)))
	if len(got) != maxMessageRunes || got[0] != '…' || got[len(got)-1] != 'z' {
		t.Fatalf("clip: len %d first %q last %q", len(got), got[0], got[len(got)-1])
	}
	if clip("short") != "short" {
		t.Fatal("short text changed")
	}
}

func TestBot_RunDispatchesToPool(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.bot.deps.Pool.Start(ctx)
	defer f.bot.deps.Pool.Stop()

	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()
	f.api.updates <- commandUpdate(2, "start")

	deadline := time.After(2 * time.Second)
	for len(f.api.messages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("update not handled")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	f.api.mu.Lock()
	stopped := f.api.stopped
	f.api.mu.Unlock()
	if !stopped {
		t.Fatal("updates not stopped")
	}
}

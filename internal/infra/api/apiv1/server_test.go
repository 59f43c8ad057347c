//go:build !integration

package apiv1_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"
	apiv1 "audio-assistant/internal/infra/api/apiv1"
	"audio-assistant/internal/infra/memstore"
	"audio-assistant/internal/usecase"
)

type env struct {
	srv       *apiv1.Server
	router    *chi.Mux
	session   *fakeSession
	assistant *fakeAssistant
	queue     *memstore.JobQueue
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		session: &fakeSession{TranscribeFunc: func(context.Context, usecase.TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error] {
			return snapshots(nil)
		}},
		assistant: &fakeAssistant{
			DecideFunc: func(context.Context, model.Conversation) (usecase.Plugin, error) { return usecase.LocalPlugin{}, nil },
			AnswerFunc: func(context.Context, model.Conversation) iter.Seq2[string, error] { return answers(nil) },
		},
		queue: memstore.NewJobQueue(),
	}
	feedback := usecase.NewFeedbackUseCase(memstore.NewRecordRepo())
	e.srv = apiv1.NewServer(e.session, e.assistant, feedback, e.queue, newTestLogger(), apiv1.WithMaxUpload(1<<20))
	e.mount(apiv1.Limits{})
	return e
}

// mount rebuilds the router with lim and any outer middleware.
func (e *env) mount(lim apiv1.Limits, mws ...func(http.Handler) http.Handler) {
	e.router = chi.NewRouter()
	e.router.Use(mws...)
	e.router.Route("/api/v1", func(r chi.Router) { apiv1.RegisterAPIV1(r, e.srv, lim) })
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, audio []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "clip.wav")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(audio)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

const conversationJSON = `{"turns":[{"role":"user","text":"who won the 2014 world cup?"}]}`

func TestTranscriptions(t *testing.T) {
	t.Run("streams ndjson snapshots", func(t *testing.T) {
		e := newEnv(t)
		first := model.TranscriptSnapshot{Transcript: "hallo\n", Segments: []model.TranscriptSegment{{NativeText: "hallo", TargetText: "hello"}}}
		second := model.TranscriptSnapshot{Transcript: "hallo\nwelt\n", Segments: append(first.Segments, model.TranscriptSegment{NativeText: "welt", TargetText: "world"})}
		e.session.TranscribeFunc = func(context.Context, usecase.TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error] {
			return snapshots(nil, first, second)
		}

		rec := e.do(uploadRequest(t, []byte("RIFF...."), map[string]string{"lang": "german", "target_lang": "en"}))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
			t.Fatalf("content type = %q", ct)
		}
		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("lines = %q", lines)
		}
		var last model.TranscriptSnapshot
		if err := json.Unmarshal([]byte(lines[1]), &last); err != nil {
			t.Fatal(err)
		}
		if last.Transcript != "hallo\nwelt\n" || len(last.Segments) != 2 || last.Segments[1].TargetText != "world" {
			t.Fatalf("last = %+v", last)
		}

		got := e.session.got
		if got.MainLang != "german" || got.TargetLang != "en" || got.ModelConfig != "small" || string(got.Audio) != "RIFF...." {
			t.Fatalf("request = %+v", got)
		}
	})

	t.Run("bad input", func(t *testing.T) {
		e := newEnv(t)
		if rec := e.do(uploadRequest(t, nil, map[string]string{"lang": "de"})); rec.Code != http.StatusBadRequest {
			t.Fatalf("missing audio: %d", rec.Code)
		}
		if rec := e.do(uploadRequest(t, []byte("x"), map[string]string{"lang": "klingon"})); rec.Code != http.StatusBadRequest {
			t.Fatalf("bad lang: %d", rec.Code)
		}
		big := make([]byte, 2<<20)
		if rec := e.do(uploadRequest(t, big, map[string]string{"lang": "de"})); rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("too large: %d", rec.Code)
		}
	})

	t.Run("error before first snapshot maps to status", func(t *testing.T) {
		e := newEnv(t)
		e.session.TranscribeFunc = func(context.Context, usecase.TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error] {
			return snapshots(domain.ErrSessionTimeout)
		}
		rec := e.do(uploadRequest(t, []byte("x"), map[string]string{"lang": "de"}))
		if rec.Code != http.StatusGatewayTimeout {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("error mid stream ends with error line", func(t *testing.T) {
		e := newEnv(t)
		e.session.TranscribeFunc = func(context.Context, usecase.TranscribeRequest) iter.Seq2[model.TranscriptSnapshot, error] {
			return snapshots(domain.ErrJobFailed, model.TranscriptSnapshot{Transcript: "a\n"})
		}
		rec := e.do(uploadRequest(t, []byte("x"), map[string]string{"lang": "de"}))
		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		if rec.Code != http.StatusOK || len(lines) != 2 || !strings.Contains(lines[1], `"error"`) {
			t.Fatalf("status=%d lines=%q", rec.Code, lines)
		}
	})
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			out = append(out, cur)
			cur = sseEvent{}
		}
	}
	return out
}

func TestAssistantSSE(t *testing.T) {
	t.Run("streams answer then done", func(t *testing.T) {
		e := newEnv(t)
		var gotConv model.Conversation
		e.assistant.AnswerFunc = func(_ context.Context, conv model.Conversation) iter.Seq2[string, error] {
			gotConv = conv
			return answers(nil, "Ger", "Germany")
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/assistant", strings.NewReader(conversationJSON))
		rec := e.do(req)
		if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/event-stream" {
			t.Fatalf("status=%d ct=%q", rec.Code, rec.Header().Get("Content-Type"))
		}
		events := parseSSE(t, rec.Body.String())
		if len(events) != 3 {
			t.Fatalf("events = %+v", events)
		}
		if events[1].name != "answer" || events[1].data != `{"text":"Germany"}` {
			t.Fatalf("event[1] = %+v", events[1])
		}
		if events[2].name != "done" || events[2].data != `{"text":"Germany"}` {
			t.Fatalf("event[2] = %+v", events[2])
		}
		if gotConv.LastUserMessage() != "who won the 2014 world cup?" {
			t.Fatalf("conversation = %+v", gotConv)
		}
	})

	t.Run("error event", func(t *testing.T) {
		e := newEnv(t)
		e.assistant.AnswerFunc = func(context.Context, model.Conversation) iter.Seq2[string, error] {
			return answers(domain.ErrSearchUnavailable, "par")
		}
		rec := e.do(httptest.NewRequest(http.MethodPost, "/api/v1/assistant", strings.NewReader(conversationJSON)))
		events := parseSSE(t, rec.Body.String())
		if len(events) != 2 || events[1].name != "error" || !strings.Contains(events[1].data, "search unavailable") {
			t.Fatalf("events = %+v", events)
		}
	})

	t.Run("invalid conversation", func(t *testing.T) {
		e := newEnv(t)
		for _, body := range []string{`{`, `{"turns":[]}`, `{"turns":[{"role":"assistant","text":"hi"}]}`} {
			rec := e.do(httptest.NewRequest(http.MethodPost, "/api/v1/assistant", strings.NewReader(body)))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("body %s: status %d", body, rec.Code)
			}
		}
	})
}

func TestAssistantRoute(t *testing.T) {
	e := newEnv(t)
	e.assistant.DecideFunc = func(context.Context, model.Conversation) (usecase.Plugin, error) {
		return usecase.SearchPlugin{Query: "world cup 2014 winner", Site: "wiki.example"}, nil
	}
	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/v1/assistant/route", strings.NewReader(conversationJSON)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got["plugin"] != "search" || got["query"] != "world cup 2014 winner" || got["site"] != "wiki.example" {
		t.Fatalf("got %v", got)
	}

	e.assistant.DecideFunc = func(context.Context, model.Conversation) (usecase.Plugin, error) {
		return nil, domain.ErrEmptyConversation
	}
	rec = e.do(httptest.NewRequest(http.MethodPost, "/api/v1/assistant/route", strings.NewReader(conversationJSON)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAssistantWebsocket(t *testing.T) {
	e := newEnv(t)
	e.assistant.AnswerFunc = func(_ context.Context, conv model.Conversation) iter.Seq2[string, error] {
		if strings.Contains(conv.LastUserMessage(), "fail") {
			return answers(errors.New("llm down"))
		}
		return answers(nil, "a", "ab")
	}
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/assistant/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	type msg struct {
		Type  string `json:"type"`
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	read := func() msg {
		t.Helper()
		var m msg
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		return m
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(conversationJSON))
	if m := read(); m.Type != "delta" || m.Text != "a" {
		t.Fatalf("first = %+v", m)
	}
	if m := read(); m.Type != "delta" || m.Text != "ab" {
		t.Fatalf("second = %+v", m)
	}
	if m := read(); m.Type != "done" || m.Text != "ab" {
		t.Fatalf("final = %+v", m)
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"turns":[]}`))
	if m := read(); m.Type != "error" {
		t.Fatalf("invalid conversation = %+v", m)
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"turns":[{"role":"user","text":"please fail"}]}`))
	if m := read(); m.Type != "error" || m.Error != "llm down" {
		t.Fatalf("failure = %+v", m)
	}
}

type wsReply struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

// dialAssistant opens /assistant/ws on h and returns send and read helpers.
func dialAssistant(t *testing.T, h http.Handler) (send func(string), read func() wsReply) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/assistant/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	send = func(body string) {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(body)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	read = func() wsReply {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var m wsReply
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		return m
	}
	return send, read
}

func TestAssistantWebsocket_RateLimitPerMessage(t *testing.T) {
	e := newEnv(t)
	var answered atomic.Int32
	e.assistant.AnswerFunc = func(context.Context, model.Conversation) iter.Seq2[string, error] {
		answered.Add(1)
		return answers(nil, "ok")
	}
	var (
		calls   atomic.Int32
		failing atomic.Bool
	)
	const limit = 2
	e.mount(apiv1.Limits{Message: func(context.Context, *http.Request) (bool, error) {
		if failing.Load() {
			return false, errors.New("redis down")
		}
		return calls.Add(1) <= limit, nil
	}})
	send, read := dialAssistant(t, e.router)

	for i := 0; i < limit; i++ {
		send(conversationJSON)
		if m := read(); m.Type != "delta" {
			t.Fatalf("message %d delta = %+v", i, m)
		}
		if m := read(); m.Type != "done" || m.Text != "ok" {
			t.Fatalf("message %d final = %+v", i, m)
		}
	}

	send(conversationJSON)
	if m := read(); m.Type != "error" || m.Error != "rate limit exceeded" {
		t.Fatalf("over limit = %+v", m)
	}
	if got := answered.Load(); got != limit {
		t.Fatalf("answered %d messages, want %d", got, limit)
	}

	// invalid messages never reach the limiter
	send(`{"turns":[]}`)
	if m := read(); m.Type != "error" || m.Error == "rate limit exceeded" {
		t.Fatalf("invalid conversation = %+v", m)
	}
	if got := calls.Load(); got != limit+1 {
		t.Fatalf("limiter asked %d times", got)
	}

	// limiter errors fail open
	failing.Store(true)
	send(conversationJSON)
	if m := read(); m.Type != "delta" {
		t.Fatalf("fail open delta = %+v", m)
	}
	if m := read(); m.Type != "done" {
		t.Fatalf("fail open final = %+v", m)
	}
}

func TestAssistantWebsocket_OutlivesRequestDeadline(t *testing.T) {
	e := newEnv(t)
	e.assistant.AnswerFunc = func(ctx context.Context, _ model.Conversation) iter.Seq2[string, error] {
		if err := ctx.Err(); err != nil {
			return answers(err)
		}
		return answers(nil, "still here")
	}
	shortDeadline := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 20*time.Millisecond)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	e.mount(apiv1.Limits{}, shortDeadline)
	send, read := dialAssistant(t, e.router)

	time.Sleep(60 * time.Millisecond)
	send(conversationJSON)
	if m := read(); m.Type != "delta" {
		t.Fatalf("delta = %+v", m)
	}
	if m := read(); m.Type != "done" || m.Text != "still here" {
		t.Fatalf("final = %+v", m)
	}
}

func TestAssistantWebsocket_AnswerTimeout(t *testing.T) {
	e := newEnv(t)
	e.assistant.AnswerFunc = func(ctx context.Context, conv model.Conversation) iter.Seq2[string, error] {
		if !strings.Contains(conv.LastUserMessage(), "slow") {
			return answers(nil, "fast")
		}
		<-ctx.Done()
		return answers(ctx.Err())
	}
	e.srv = apiv1.NewServer(e.session, e.assistant, nil, e.queue, newTestLogger(),
		apiv1.WithWebsocketAnswerTimeout(30*time.Millisecond))
	e.mount(apiv1.Limits{})
	send, read := dialAssistant(t, e.router)

	send(`{"turns":[{"role":"user","text":"slow question"}]}`)
	if m := read(); m.Type != "error" || m.Error != context.DeadlineExceeded.Error() {
		t.Fatalf("slow answer = %+v", m)
	}

	// the next message gets a fresh deadline
	send(conversationJSON)
	if m := read(); m.Type != "delta" {
		t.Fatalf("delta = %+v", m)
	}
	if m := read(); m.Type != "done" || m.Text != "fast" {
		t.Fatalf("final = %+v", m)
	}
}

func TestFeedbackAndRecords(t *testing.T) {
	e := newEnv(t)
	post := func(body string) *httptest.ResponseRecorder {
		return e.do(httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(body)))
	}
	if rec := post(`{"prompt":"q","output":"answer","liked":true}`); rec.Code != http.StatusCreated {
		t.Fatalf("first rating: %d", rec.Code)
	}
	rec := post(`{"prompt":"q","output":"answer","liked":false}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"recorded":false`) {
		t.Fatalf("second rating: %d %s", rec.Code, rec.Body)
	}
	if rec := post(`{"prompt":"q","output":"  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty output: %d", rec.Code)
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/records?dataset=qa_answer&limit=5", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Fatalf("records: %d %s", rec.Code, rec.Body)
	}
	if rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/records?limit=x", nil)); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rec.Code)
	}
}

func TestJobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	chunk, err := model.NewAudioChunk([]float32{0.1, 0.2, 0.3, 0.4}, "de", "small")
	if err != nil {
		t.Fatal(err)
	}
	key, err := e.queue.Enqueue(ctx, chunk, "m1")
	if err != nil {
		t.Fatal(err)
	}

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+key, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	var job map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &job)
	if job["status"] != string(model.JobStatusTodo) || job["samples"] != float64(4) {
		t.Fatalf("job = %v", job)
	}

	requeue := func() int {
		return e.do(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+key+"/requeue", nil)).Code
	}
	if code := requeue(); code != http.StatusConflict {
		t.Fatalf("requeue TODO: %d", code)
	}
	_ = e.queue.MarkFailed(ctx, key, "boom")
	if code := requeue(); code != http.StatusNoContent {
		t.Fatalf("requeue FAILED: %d", code)
	}

	if rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job: %d", rec.Code)
	}
	if rec := e.do(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/nope/requeue", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown requeue: %d", rec.Code)
	}
}

func TestLanguages(t *testing.T) {
	e := newEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/languages", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `{"code":"de","name":"german"}`) {
		t.Fatalf("languages: %d %s", rec.Code, rec.Body)
	}
}

package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/ports/repository"
	"audio-assistant/internal/infra/logging"
	"audio-assistant/internal/usecase"
)

// Server holds the use cases behind /api/v1.
type Server struct {
	session   usecase.SessionUseCase
	assistant usecase.AssistantUseCase
	feedback  usecase.FeedbackUseCase
	queue     repository.JobQueue
	log       *zerolog.Logger

	maxUpload       int64
	wsIdle          time.Duration
	wsAnswerTimeout time.Duration
}

type Option func(*Server)

// WithMaxUpload caps the multipart body of a transcription request.
func WithMaxUpload(bytes int64) Option {
	return func(s *Server) {
		if bytes > 0 {
			s.maxUpload = bytes
		}
	}
}

// WithWebsocketIdle closes websocket connections that stay silent this long.
func WithWebsocketIdle(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.wsIdle = d
		}
	}
}

// WithWebsocketAnswerTimeout bounds each answer streamed over a websocket.
func WithWebsocketAnswerTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.wsAnswerTimeout = d
		}
	}
}

func NewServer(
	session usecase.SessionUseCase,
	assistant usecase.AssistantUseCase,
	feedback usecase.FeedbackUseCase,
	queue repository.JobQueue,
	logger *zerolog.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	l := logger.With().Str("component", "apiv1").Logger()
	s := &Server{
		session:   session,
		assistant: assistant,
		feedback:  feedback,
		queue:     queue,
		log:       &l,
		maxUpload: 100 << 20,
		wsIdle:    5 * time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MessageGate reports whether the caller behind r may get one more answer.
type MessageGate func(ctx context.Context, r *http.Request) (bool, error)

// Limits guards the routes that call the language model. The zero value
// leaves them unlimited.
type Limits struct {
	// Request wraps the HTTP handlers, websocket upgrade included.
	Request func(http.Handler) http.Handler
	// Message is asked before each websocket message is answered.
	Message MessageGate
}

// RegisterAPIV1 mounts the handlers on r.
func RegisterAPIV1(r chi.Router, s *Server, lim Limits) {
	limited := lim.Request
	if limited == nil {
		limited = func(h http.Handler) http.Handler { return h }
	}
	r.Get("/languages", s.languages)

	r.Post("/transcriptions", s.transcribe)

	r.Group(func(r chi.Router) {
		r.Use(limited)
		r.Post("/assistant", s.assistantSSE)
		r.Post("/assistant/route", s.assistantRoute)
		r.Get("/assistant/ws", s.assistantWS(lim.Message))
	})

	r.Post("/feedback", s.rate)
	r.Get("/records", s.records)

	r.Get("/jobs/{key}", s.getJob)
	r.Post("/jobs/{key}/requeue", s.requeueJob)
}

// ---- helpers ----

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrUnsupportedLanguage),
		errors.Is(err, domain.ErrEmptyConversation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrSearchUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrSessionTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	if status >= 500 {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg(msg)
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}

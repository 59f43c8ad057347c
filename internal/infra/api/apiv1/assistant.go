package apiv1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/infra/logging"
	"audio-assistant/internal/usecase"
)

type routeResponse struct {
	Plugin string `json:"plugin"`
	Query  string `json:"query,omitempty"`
	Site   string `json:"site,omitempty"`
}

func decodeConversation(w http.ResponseWriter, r *http.Request) (model.Conversation, error) {
	var conv model.Conversation
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&conv); err != nil {
		return conv, err
	}
	return conv, nil
}

func (s *Server) assistantRoute(w http.ResponseWriter, r *http.Request) {
	conv, err := decodeConversation(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.assistant.Decide(r.Context(), conv)
	if err != nil {
		s.fail(w, r, err, "routing failed")
		return
	}
	resp := routeResponse{Plugin: p.Name()}
	if sp, ok := p.(usecase.SearchPlugin); ok {
		resp.Query, resp.Site = sp.Query, sp.Site
	}
	writeJSON(w, http.StatusOK, resp)
}

type answerEvent struct {
	Text string `json:"text"`
}

// assistantSSE streams the growing answer as server-sent events: "answer"
// events carry the full text so far, then one "done" or "error" event.
func (s *Server) assistantSSE(w http.ResponseWriter, r *http.Request) {
	conv, err := decodeConversation(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := conv.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	log := logging.With(ctx, s.log)
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(event string, v any) error {
		b, _ := json.Marshal(v)
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b); err != nil {
			return err
		}
		return rc.Flush()
	}

	var last string
	for text, err := range s.assistant.Answer(ctx, conv) {
		if err != nil {
			log.Warn().Err(err).Msg("assistant stream failed")
			_ = send("error", errorBody{Error: err.Error()})
			return
		}
		last = text
		if err := send("answer", answerEvent{Text: text}); err != nil {
			log.Debug().Err(err).Msg("client went away")
			return
		}
	}
	_ = send("done", answerEvent{Text: last})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers on other origins authenticate with bearer tokens, not cookies.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsMessage struct {
	Type  string `json:"type"` // delta|done|error
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// assistantWS reads one conversation per message and answers each with
// delta messages followed by done or error. allow, when set, is asked before
// every answer.
func (s *Server) assistantWS(allow MessageGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the response.
			return
		}
		defer conn.Close()

		// The request deadline bounds the upgrade only. One log session per
		// connection; trace ids stay per upgrade request.
		ctx, cancel := context.WithCancel(logging.WithSessID(context.WithoutCancel(r.Context()), uuid.NewString()))
		defer cancel()
		log := logging.With(ctx, s.log)
		conn.SetReadLimit(1 << 20)

		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.wsIdle))
			var conv model.Conversation
			if err := conn.ReadJSON(&conv); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Msg("websocket read ended")
				}
				return
			}
			if err := conv.Validate(); err != nil {
				if conn.WriteJSON(wsMessage{Type: "error", Error: err.Error()}) != nil {
					return
				}
				continue
			}
			if allow != nil {
				ok, err := allow(ctx, r)
				if err != nil {
					log.Warn().Err(err).Msg("rate limiter unavailable")
				} else if !ok {
					if conn.WriteJSON(wsMessage{Type: "error", Error: domain.ErrRateLimited.Error()}) != nil {
						return
					}
					continue
				}
			}
			if !s.answerWS(ctx, conn, conv) {
				return
			}
		}
	}
}

// answerWS streams one answer. It reports false once the connection is gone.
func (s *Server) answerWS(ctx context.Context, conn *websocket.Conn, conv model.Conversation) bool {
	if s.wsAnswerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.wsAnswerTimeout)
		defer cancel()
	}
	final := wsMessage{Type: "done"}
	for text, err := range s.assistant.Answer(ctx, conv) {
		if err != nil {
			final = wsMessage{Type: "error", Error: err.Error()}
			break
		}
		final.Text = text
		if err := conn.WriteJSON(wsMessage{Type: "delta", Text: text}); err != nil {
			return false
		}
	}
	return conn.WriteJSON(final) == nil
}

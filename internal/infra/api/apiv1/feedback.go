package apiv1

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"audio-assistant/internal/domain/lang"
)

type feedbackRequest struct {
	Prompt string `json:"prompt"`
	Output string `json:"output"`
	Liked  bool   `json:"liked"`
}

func (s *Server) rate(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	recorded, err := s.feedback.Rate(r.Context(), req.Prompt, req.Output, req.Liked)
	if err != nil {
		s.fail(w, r, err, "feedback failed")
		return
	}
	status := http.StatusOK
	if recorded {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"recorded": recorded})
}

type recordView struct {
	ID         string    `json:"id"`
	Dataset    string    `json:"dataset"`
	Text       string    `json:"text"`
	Prediction string    `json:"prediction"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) records(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := s.feedback.Records(r.Context(), q.Get("dataset"), limit)
	if err != nil {
		s.fail(w, r, err, "list records failed")
		return
	}
	items := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		items = append(items, recordView{
			ID: rec.ID, Dataset: rec.Dataset, Text: rec.Text, Prediction: rec.Prediction, CreatedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) languages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": lang.All()})
}

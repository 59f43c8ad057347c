package apiv1

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"audio-assistant/internal/domain"
	"audio-assistant/internal/infra/logging"
)

type jobView struct {
	Key          string    `json:"key"`
	Status       string    `json:"status"`
	MainLang     string    `json:"main_lang"`
	ModelConfig  string    `json:"model_config"`
	Samples      int       `json:"samples"`
	Transcript   string    `json:"transcript,omitempty"`
	DetectedLang string    `json:"detected_lang,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.fail(w, r, err, "get job failed")
		return
	}
	writeJSON(w, http.StatusOK, jobView{
		Key:          job.Key,
		Status:       string(job.Status),
		MainLang:     job.MainLang,
		ModelConfig:  job.ModelConfig,
		Samples:      len(job.Samples),
		Transcript:   job.Transcript,
		DetectedLang: job.DetectedLang,
		LastError:    job.LastError,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	})
}

func (s *Server) requeueJob(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	err := s.queue.Requeue(r.Context(), key)
	switch {
	case err == nil:
		logging.With(r.Context(), s.log).Info().Str("job", key).Msg("job requeued")
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrInvalidArgument):
		// Only FAILED or IN_PROGRESS jobs can be requeued.
		writeError(w, http.StatusConflict, "job is not failed or in progress")
	default:
		s.fail(w, r, err, "requeue failed")
	}
}

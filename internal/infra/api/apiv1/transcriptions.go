package apiv1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"audio-assistant/internal/domain/lang"
	"audio-assistant/internal/infra/logging"
	"audio-assistant/internal/usecase"
)

// transcribe accepts a multipart upload and streams NDJSON snapshots, one
// line per finished segment. An error after the first line is sent as a
// final {"error": ...} line.
func (s *Server) transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio file")
		return
	}
	audio, err := io.ReadAll(file)
	_ = file.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "read audio")
		return
	}

	req := usecase.TranscribeRequest{
		Audio:       audio,
		MainLang:    r.FormValue("lang"),
		ModelConfig: r.FormValue("model_config"),
		TargetLang:  r.FormValue("target_lang"),
	}
	if req.ModelConfig == "" {
		req.ModelConfig = "small"
	}
	if _, ok := lang.Code(req.MainLang); !ok {
		writeError(w, http.StatusBadRequest, "unsupported lang")
		return
	}

	ctx := r.Context()
	log := logging.With(ctx, s.log)
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	started := false

	for snap, err := range s.session.Transcribe(ctx, req) {
		if err != nil {
			if !started {
				s.fail(w, r, err, "transcription failed")
				return
			}
			log.Warn().Err(err).Msg("transcription stream ended with error")
			_ = enc.Encode(errorBody{Error: err.Error()})
			_ = rc.Flush()
			return
		}
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(snap); err != nil {
			log.Debug().Err(err).Msg("client went away")
			return
		}
		_ = rc.Flush()
	}
}

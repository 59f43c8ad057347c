package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"audio-assistant/internal/infra/api/apiv1"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Auth        *AuthManager // nil disables auth
	Limiter     Limiter      // nil disables rate limiting
	RateLimit   int
	RateWindow  time.Duration
	Timeout     time.Duration // per request; websocket answers are bounded by apiv1 instead
	HealthCheck HealthCheck
}

// NewRouter builds the full HTTP surface: health, metrics and /api/v1.
func NewRouter(v1 *apiv1.Server, cfg RouterConfig, logger *zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(logger), Recover(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.HealthCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.HealthCheck(ctx); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Timeout > 0 {
			r.Use(Timeout(cfg.Timeout))
		}
		r.Use(Auth(cfg.Auth))
		apiv1.RegisterAPIV1(r, v1, apiv1.Limits{
			Request: RateLimit(cfg.Limiter, "assistant", cfg.RateLimit, cfg.RateWindow, logger),
			Message: RateGate(cfg.Limiter, "assistant", cfg.RateLimit, cfg.RateWindow),
		})
	})
	return r
}

// Server runs the HTTP listener.
type Server struct {
	srv *http.Server
	log *zerolog.Logger
}

func NewServer(addr string, h http.Handler, logger *zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger,
	}
}

// Start blocks until the server stops. Shutdown is not an error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

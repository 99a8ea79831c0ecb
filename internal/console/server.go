// Package console serves the two pickers and their workflows as JSON over a
// local HTTP listener so a thin page or script can drive the intake flow.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/trackshift/answer-intake/internal/config"
	"github.com/trackshift/answer-intake/internal/workflow"
)

const defaultUploadMaxBytes = 64 << 20

// Server holds the workflows behind the console routes.
type Server struct {
	cfg       config.Config
	ingestion *workflow.Ingestion
	rfp       *workflow.RFP
	metrics   *workflow.Metrics
	logger    zerolog.Logger
	maxUpload int64
	// submissions outlive the request that started them
	baseCtx context.Context
}

// New builds a console over the given workflows. metrics may be nil.
func New(ctx context.Context, cfg config.Config, ingestion *workflow.Ingestion, rfp *workflow.RFP, metrics *workflow.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		ingestion: ingestion,
		rfp:       rfp,
		metrics:   metrics,
		logger:    logger.With().Str("component", "console").Logger(),
		maxUpload: defaultUploadMaxBytes,
		baseCtx:   ctx,
	}
}

// Routes returns the console router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", healthz)
	r.Get("/api/config", s.configHandler)
	r.Get("/reports/kpi", s.kpiHandler)

	r.Route("/documents", func(docs chi.Router) {
		s.mountPicker(docs, picker{
			selection: s.ingestion.Selection(),
			state:     func() any { return s.ingestion.State() },
			start:     s.ingestion.Start,
		})
	})
	r.Route("/rfp", func(rfp chi.Router) {
		s.mountPicker(rfp, picker{
			selection: s.rfp.Selection(),
			state:     func() any { return s.rfp.State() },
			start:     s.rfp.Start,
		})
		rfp.Post("/answers/clear", func(w http.ResponseWriter, _ *http.Request) {
			s.rfp.ClearAnswers()
			writeJSON(w, http.StatusOK, s.rfp.State())
		})
	})
	return r
}

// ListenAndServe serves the console on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("console listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) configHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"api_base":             s.cfg.APIBase,
		"timeout_seconds":      s.cfg.TimeoutSeconds(),
		"source":               s.cfg.Source.Kind,
		"documents_upload_url": s.cfg.DocumentsUploadURL(),
		"rfp_upload_url":       s.cfg.RFPUploadURL(),
		"bulk_answers_url":     s.cfg.BulkAnswersURL(),
	})
}

func (s *Server) kpiHandler(w http.ResponseWriter, _ *http.Request) {
	stages := map[workflow.Stage]workflow.StageKPI{}
	if s.metrics != nil {
		stages = s.metrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stages":       stages,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("latency", time.Since(started)).
				Msg("request")
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

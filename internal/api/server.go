package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/verdict/internal/approval"
	"github.com/MikeSquared-Agency/verdict/internal/instructions"
	"github.com/MikeSquared-Agency/verdict/internal/pipeline"
	"github.com/MikeSquared-Agency/verdict/internal/store"
)

// Pipeline is the processing surface the HTTP routes adapt.
type Pipeline interface {
	ProcessConversation(ctx context.Context, conversationID string) pipeline.Outcome
	ProcessMany(ctx context.Context, ids []string) (*pipeline.BatchResult, error)
	ProposeImprovements(ctx context.Context, reportPath string) (*approval.Pending, error)
	PreviewImprovements(ctx context.Context, token string) (*instructions.MergeResult, error)
	ConfirmImprovements(ctx context.Context, token string) (*instructions.MergeResult, error)
}

// Instructions reads and repairs the remote assistant instructions.
type Instructions interface {
	Current(ctx context.Context) (string, error)
	Cleanup(ctx context.Context) (string, error)
}

// RunHistory lists recorded conversation runs.
type RunHistory interface {
	RecentOutcomes(ctx context.Context, limit int) ([]store.Outcome, error)
}

type Server struct {
	router       *chi.Mux
	port         int
	pipeline     Pipeline
	instructions Instructions
	runs         RunHistory
	logger       *slog.Logger
	httpServer   *http.Server
}

// NewServer builds the router. Mutating and instruction-dumping routes
// require the bearer token; with no token configured they are refused.
func NewServer(port int, apiToken string, p Pipeline, ins Instructions, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:       router,
		port:         port,
		pipeline:     p,
		instructions: ins,
		logger:       logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/status", s.status)

	// Approval links arrive from mail clients and carry their own token.
	router.Get("/preview-improvements", s.previewImprovements)
	router.Get("/confirm-improvements", s.confirmImprovements)

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/cleanup-improvements", s.cleanupImprovements)
		r.Get("/assistant-instructions", s.assistantInstructions)

		r.Post("/api/v1/conversations/{id}/process", s.processConversation)
		r.Post("/api/v1/batches", s.processBatch)
		r.Post("/api/v1/improvements", s.proposeImprovements)
		r.Get("/api/v1/runs", s.listRuns)
	})

	return s
}

// WithRunHistory enables GET /api/v1/runs. Without it the route answers 503.
func (s *Server) WithRunHistory(h RunHistory) *Server {
	s.runs = h
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "verdict",
		"status":  "ok",
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

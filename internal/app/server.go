package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/ragline/internal/api/handlers"
	"github.com/markdave123-py/ragline/internal/config"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, a *App, logger *slog.Logger) *Server {
	uploadHandler := handlers.NewUploadHandler(a.Pipeline, a.QAService, a.Tracker, a, cfg, logger)
	qaHandler := handlers.NewQAHandler(a.QAService, logger)
	adminHandler := handlers.NewAdminHandler(a.Store, a.Limiter, cfg, Version, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", adminHandler.Health)
	r.Get("/stats", adminHandler.Stats)
	r.Get("/rate-limit-stats", adminHandler.RateLimitStats)
	r.Delete("/collection/{name}", adminHandler.DeleteCollection)

	r.Post("/upload", uploadHandler.Upload)
	r.Get("/progress/{upload_id}", uploadHandler.Progress)
	r.Get("/ws/{upload_id}", uploadHandler.ServeWS)

	// Initialize may legitimately run for minutes; it gets no timeout.
	r.Post("/initialize", uploadHandler.Initialize)

	// Interactive endpoints get a request timeout.
	r.Group(func(timed chi.Router) {
		timed.Use(middleware.Timeout(60 * time.Second))
		timed.Post("/question", qaHandler.Question)
		timed.Post("/search", qaHandler.Search)
		timed.Post("/batch-questions", qaHandler.BatchQuestions)
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

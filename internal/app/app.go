// Package app wires the process-lifetime singletons: rate limiter, provider
// adapters, vector store, progress tracker, ingestion pipeline and QA
// service. The App owns them; handlers borrow references.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/ragline/internal/config"
	"github.com/markdave123-py/ragline/internal/core/enrich"
	"github.com/markdave123-py/ragline/internal/core/extract"
	"github.com/markdave123-py/ragline/internal/core/llm"
	"github.com/markdave123-py/ragline/internal/core/objectstore"
	"github.com/markdave123-py/ragline/internal/core/pipeline"
	"github.com/markdave123-py/ragline/internal/core/progress"
	"github.com/markdave123-py/ragline/internal/core/qa"
	"github.com/markdave123-py/ragline/internal/core/ratelimit"
	"github.com/markdave123-py/ragline/internal/core/vectorstore"
)

const Version = "1.0.0"

// shutdownGrace bounds how long in-flight pipelines may run after shutdown
// begins.
const shutdownGrace = 30 * time.Second

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Limiter   *ratelimit.Limiter
	Store     vectorstore.Store
	Tracker   *progress.Tracker
	Pipeline  *pipeline.Pipeline
	QAService *qa.Service
	Server    *Server

	// Background executor state: uploads keep running after the HTTP
	// request returns, but not past shutdown.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	mu       sync.Mutex
	draining bool

	closers []func() error
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := NewLogger(cfg)
	slog.SetDefault(logger)

	limiter := ratelimit.New(cfg.RateLimitRPM, logger)

	store, err := vectorstore.NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	if health := store.Health(ctx); !health.OK {
		logger.Warn("vector store health probe failed at startup", "detail", health.Detail)
	} else {
		logger.Info("vector store reachable", "latency_ms", health.LatencyMs)
	}

	embedder, err := llm.NewEmbedder(ctx, cfg.EmbeddingsProvider, cfg, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("embeddings adapter: %w", err)
	}
	metadataChat, err := llm.NewChat(ctx, cfg.MetadataProvider, cfg, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("metadata adapter: %w", err)
	}
	qaChat, err := llm.NewChat(ctx, cfg.QAProvider, cfg, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("qa adapter: %w", err)
	}

	// The object store is optional; uploads by storage_url fail cleanly
	// without it.
	var fetcher objectstore.Fetcher
	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" {
		s3Client, err := objectstore.NewS3Client(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		fetcher = s3Client
		logger.Info("object store configured", "region", cfg.AwsRegion)
	}

	tracker := progress.NewTracker(time.Duration(cfg.ProgressTTLSeconds)*time.Second, logger)
	enricher := enrich.New(metadataChat, logger)
	pipe := pipeline.New(embedder, enricher, store, tracker, fetcher, extract.New(false), pipeline.Config{
		ChunkSize:       cfg.ChunkSize,
		ChunkOverlap:    cfg.ChunkOverlap,
		DefaultStrategy: cfg.DefaultStrategy,
		Concurrency:     cfg.PipelineConcurrency,
		BatchSize:       cfg.UpsertBatchSize,
	}, logger)
	qaService := qa.NewService(store, embedder, qaChat, pipe, cfg.VectorStoreCollection, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Limiter:   limiter,
		Store:     store,
		Tracker:   tracker,
		Pipeline:  pipe,
		QAService: qaService,
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
	}
	a.Server = NewServer(cfg, a, logger)

	if closer, ok := embedder.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}
	for _, chat := range []llm.Chat{metadataChat, qaChat} {
		if closer, ok := chat.(interface{ Close() error }); ok {
			a.closers = append(a.closers, closer.Close)
		}
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	return a, nil
}

// Schedule runs fn on the background executor. It fails once shutdown has
// begun so /upload can answer 503 instead of starting doomed work.
func (a *App) Schedule(fn func(ctx context.Context)) error {
	a.mu.Lock()
	if a.draining {
		a.mu.Unlock()
		return fmt.Errorf("shutting down")
	}
	a.bgWG.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.bgWG.Done()
		fn(a.bgCtx)
	}()
	return nil
}

// Shutdown stops accepting uploads, signals cancellation to in-flight
// pipelines and waits out the grace period.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.draining = true
	a.mu.Unlock()

	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Logger.Warn("http shutdown", "error", err)
		}
	}

	a.bgCancel()
	done := make(chan struct{})
	go func() {
		a.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Logger.Info("all background work drained")
	case <-time.After(shutdownGrace):
		a.Logger.Warn("grace period elapsed, abandoning in-flight work")
	}

	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.Logger.Warn("close failed", "error", err)
		}
	}
}

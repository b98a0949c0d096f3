// Package qa implements retrieve-then-generate question answering with
// auto-initialization: the first question after a cold start binds the
// retriever to the configured collection transparently.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/ragline/internal/core/llm"
	"github.com/markdave123-py/ragline/internal/core/pipeline"
	"github.com/markdave123-py/ragline/internal/core/vectorstore"
	"github.com/markdave123-py/ragline/internal/models"
)

// snippetLimit bounds the per-source excerpt returned with an answer.
const snippetLimit = 200

// batchConcurrency caps the fan-out of BatchAnswer; the shared rate limiter
// still bounds the combined outbound rate.
const batchConcurrency = 4

// UnavailableError is returned when the service is cold and auto-init failed.
type UnavailableError struct {
	Detail     string
	Suggestion string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("service unavailable: %s (%s)", e.Detail, e.Suggestion)
}

// RetrievalError marks failures in the retrieval leg.
type RetrievalError struct{ Err error }

func (e *RetrievalError) Error() string { return fmt.Sprintf("retrieval: %v", e.Err) }
func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationError marks failures in the generation leg.
type GenerationError struct{ Err error }

func (e *GenerationError) Error() string { return fmt.Sprintf("generation: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

// Service answers questions against an indexed collection.
type Service struct {
	store             vectorstore.Store
	embedder          llm.Embedder
	chat              llm.Chat
	pipeline          *pipeline.Pipeline
	defaultCollection string
	logger            *slog.Logger

	mu         sync.Mutex
	ready      bool
	collection string
}

func NewService(store vectorstore.Store, embedder llm.Embedder, chat llm.Chat, pipe *pipeline.Pipeline, defaultCollection string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:             store,
		embedder:          embedder,
		chat:              chat,
		pipeline:          pipe,
		defaultCollection: defaultCollection,
		logger:            logger,
	}
}

// InitializeFromDocuments runs the full ingestion pipeline synchronously and
// binds the service to the resulting collection.
func (s *Service) InitializeFromDocuments(ctx context.Context, docs []models.Document, collection, strategy string, enableMetadata, forceRecreate bool) (*models.IngestResult, error) {
	if collection == "" {
		collection = s.defaultCollection
	}
	result, err := s.pipeline.Run(ctx, pipeline.Request{
		Documents:      docs,
		Collection:     collection,
		Strategy:       strategy,
		EnableMetadata: enableMetadata,
		ForceRecreate:  forceRecreate,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.ready = true
	s.collection = collection
	s.mu.Unlock()
	return result, nil
}

// InitializeFromExistingCollection probes the collection and, if it exists,
// marks the service ready without re-ingesting anything.
func (s *Service) InitializeFromExistingCollection(ctx context.Context, collection string) error {
	if collection == "" {
		collection = s.defaultCollection
	}
	stats, err := s.store.Stats(ctx, collection)
	if err != nil {
		return fmt.Errorf("probe collection %s: %w", collection, err)
	}

	s.mu.Lock()
	s.ready = true
	s.collection = collection
	s.mu.Unlock()
	s.logger.Info("bound to existing collection",
		"collection", collection, "points", stats.Points, "dimension", stats.Dimension)
	return nil
}

// Ready reports whether a retriever is bound.
func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// ensureReady performs lazy auto-initialization against the default
// collection on the first call after a cold start.
func (s *Service) ensureReady(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.ready {
		collection := s.collection
		s.mu.Unlock()
		return collection, nil
	}
	s.mu.Unlock()

	if err := s.InitializeFromExistingCollection(ctx, s.defaultCollection); err != nil {
		return "", &UnavailableError{
			Detail:     fmt.Sprintf("service not initialized and auto-initialization failed: %v", err),
			Suggestion: "call /initialize with documents to build the collection",
		}
	}

	s.mu.Lock()
	collection := s.collection
	s.mu.Unlock()
	return collection, nil
}

// Answer retrieves context for the question and generates an answer. A
// non-empty collectionOverride rebinds retrieval to that collection for this
// call only.
func (s *Service) Answer(ctx context.Context, question, queryType string, k int, collectionOverride string) (*models.QAResponse, error) {
	start := time.Now()

	collection, err := s.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	if collectionOverride != "" {
		collection = collectionOverride
	}
	queryType = normalizeQueryType(queryType)

	retrievalStart := time.Now()
	retriever := vectorstore.ForQueryType(s.store, s.embedder, collection, queryType, k, nil)
	hits, err := retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, &RetrievalError{Err: err}
	}
	retrievalMs := float64(time.Since(retrievalStart).Microseconds()) / 1000

	// Zero hits still go to generation; the prompt tells the model to flag
	// insufficient context.
	prompt := promptFor(queryType)
	contextText := formatContext(hits)

	generationStart := time.Now()
	answer, err := s.chat.Complete(ctx, prompt.system, prompt.render(contextText, question), 0.7, 0)
	if err != nil {
		return nil, &GenerationError{Err: err}
	}
	generationMs := float64(time.Since(generationStart).Microseconds()) / 1000

	resp := &models.QAResponse{
		Answer:           answer,
		QueryType:        queryType,
		DocumentsUsed:    len(hits),
		Sources:          sourcesFrom(hits),
		RetrievalTimeMs:  retrievalMs,
		GenerationTimeMs: generationMs,
		TotalTimeMs:      float64(time.Since(start).Microseconds()) / 1000,
		Model:            s.chat.Model(),
	}
	s.logger.Info("question answered",
		"query_type", queryType, "documents_used", len(hits),
		"retrieval_ms", retrievalMs, "generation_ms", generationMs)
	return resp, nil
}

// BatchItem pairs one question with its answer or error.
type BatchItem struct {
	Question string             `json:"question"`
	Response *models.QAResponse `json:"response,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// BatchAnswer answers questions with a small bounded fan-out; per-question
// failures are reported inline.
func (s *Service) BatchAnswer(ctx context.Context, questions []string, queryType string, k int) []BatchItem {
	items := make([]BatchItem, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, q := range questions {
		g.Go(func() error {
			resp, err := s.Answer(gctx, q, queryType, k, "")
			item := BatchItem{Question: q}
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Response = resp
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// Search runs retrieval only.
func (s *Service) Search(ctx context.Context, query string, k int, queryType string) ([]models.SearchHit, error) {
	collection, err := s.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	retriever := vectorstore.ForQueryType(s.store, s.embedder, collection, normalizeQueryType(queryType), k, nil)
	hits, err := retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, &RetrievalError{Err: err}
	}

	out := make([]models.SearchHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, models.SearchHit{
			Content:  snippet(payloadText(hit.Payload)),
			Source:   payloadSource(hit.Payload),
			Score:    hit.Score,
			Metadata: hit.Payload,
		})
	}
	return out, nil
}

func payloadText(payload map[string]any) string {
	if text, ok := payload["text"].(string); ok {
		return text
	}
	return ""
}

func payloadSource(payload map[string]any) string {
	if source, ok := payload["source"].(string); ok && source != "" {
		return source
	}
	return "unknown"
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLimit {
		return text
	}
	return string(runes[:snippetLimit])
}

// formatContext joins retrieved chunks with source markers for the prompt.
func formatContext(hits []vectorstore.SearchResult) string {
	var b strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&b, "[Document %d - %s]\n%s\n\n", i+1, payloadSource(hit.Payload), payloadText(hit.Payload))
	}
	return strings.TrimSpace(b.String())
}

func sourcesFrom(hits []vectorstore.SearchResult) []models.QASource {
	sources := make([]models.QASource, 0, len(hits))
	for _, hit := range hits {
		sources = append(sources, models.QASource{
			Source:         payloadSource(hit.Payload),
			RelevanceScore: hit.Score,
			Snippet:        snippet(payloadText(hit.Payload)),
			Metadata:       hit.Payload,
		})
	}
	return sources
}

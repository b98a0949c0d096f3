// Package pipeline orchestrates one upload: resolve payloads, chunk, enrich,
// embed and index, emitting progress after every unit of work.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/ragline/internal/core/chunker"
	"github.com/markdave123-py/ragline/internal/core/llm"
	"github.com/markdave123-py/ragline/internal/core/objectstore"
	"github.com/markdave123-py/ragline/internal/core/progress"
	"github.com/markdave123-py/ragline/internal/core/vectorstore"
	"github.com/markdave123-py/ragline/internal/models"
)

// embeddingCostPer1k mirrors the rough per-1000-dimensions pricing used for
// the estimated_cost_usd field.
const embeddingCostPer1k = 0.00013

// enrichShare is how much of the progress bar enrichment fills; indexing
// takes the rest so progress stays monotonic across stages.
const enrichShare = 90

// Stage names attached to pipeline errors.
const (
	StageExtracting = "extracting"
	StageChunking   = "chunking"
	StageEnriching  = "enriching"
	StageIndexing   = "indexing"
)

// Error wraps a fatal pipeline failure with the stage it happened in.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("pipeline %s: %v", e.Stage, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// TextExtractor converts a raw payload into plain text.
type TextExtractor interface {
	Text(content []byte, contentType string) (string, error)
}

// Enricher extracts chunk metadata; satisfied by *enrich.Enricher.
type Enricher interface {
	Enrich(ctx context.Context, chunk models.Chunk) (models.ChunkMetadata, error)
}

// Config tunes the pipeline.
type Config struct {
	ChunkSize       int
	ChunkOverlap    int
	DefaultStrategy string
	Concurrency     int
	BatchSize       int
	// CountTokens overrides the token counter; nil picks the default
	// tokenizer with its estimator fallback.
	CountTokens chunker.TokenCounter
}

func (c Config) normalized() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = chunker.StrategyRecursive
	}
	return c
}

// Pipeline holds non-owning references to the process singletons for the
// duration of one upload.
type Pipeline struct {
	embedder  llm.Embedder
	enricher  Enricher
	store     vectorstore.Store
	tracker   *progress.Tracker
	objects   objectstore.Fetcher
	extractor TextExtractor
	counter   chunker.TokenCounter
	cfg       Config
	logger    *slog.Logger
}

func New(embedder llm.Embedder, enricher Enricher, store vectorstore.Store, tracker *progress.Tracker,
	objects objectstore.Fetcher, extractor TextExtractor, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	counter := cfg.CountTokens
	if counter == nil {
		counter = chunker.NewTokenCounter()
	}
	return &Pipeline{
		embedder:  embedder,
		enricher:  enricher,
		store:     store,
		tracker:   tracker,
		objects:   objects,
		extractor: extractor,
		counter:   counter,
		cfg:       cfg.normalized(),
		logger:    logger,
	}
}

// Request describes one ingestion run.
type Request struct {
	Documents      []models.Document
	Collection     string
	Strategy       string
	EnableMetadata bool
	ForceRecreate  bool
	UploadID       string
}

// Run executes the full pipeline. Progress events go to the tracker when the
// request carries an upload id; the synchronous initialize path runs without
// one.
func (p *Pipeline) Run(ctx context.Context, req Request) (*models.IngestResult, error) {
	start := time.Now()
	logger := p.logger.With("upload_id", req.UploadID, "collection", req.Collection)

	update := func(upd progress.Update) {
		if req.UploadID == "" {
			return
		}
		if err := p.tracker.Update(req.UploadID, upd); err != nil {
			logger.Warn("progress update failed", "error", err)
		}
	}
	fail := func(stage string, err error) (*models.IngestResult, error) {
		msg := err.Error()
		if ctx.Err() != nil {
			msg = "cancelled"
		}
		if req.UploadID != "" {
			if ferr := p.tracker.Finish(req.UploadID, progress.StatusFailed, nil, fmt.Sprintf("%s: %s", stage, msg)); ferr != nil {
				logger.Warn("failed to record terminal state", "error", ferr)
			}
		}
		logger.Error("upload failed", "stage", stage, "error", err)
		return nil, &Error{Stage: stage, Err: err}
	}

	// Extracting: documents arriving as storage references are resolved and
	// converted before chunking.
	update(progress.Update{Status: progress.StatusExtracting, Message: "resolving documents"})
	docs, err := p.resolveDocuments(ctx, req.Documents)
	if err != nil {
		return fail(StageExtracting, err)
	}

	// Chunking.
	update(progress.Update{Status: progress.StatusChunking, Message: "chunking documents"})
	splitter, err := chunker.New(req.Strategy, chunker.Options{
		ChunkSize:    p.cfg.ChunkSize,
		ChunkOverlap: p.cfg.ChunkOverlap,
		CountTokens:  p.counter,
	}, p.embedder)
	if err != nil {
		return fail(StageChunking, err)
	}

	var chunks []models.Chunk
	for _, doc := range docs {
		split, err := splitter.Split(ctx, doc)
		if err != nil {
			return fail(StageChunking, fmt.Errorf("split %s: %w", doc.Source, err))
		}
		chunks = append(chunks, split...)
	}
	total := len(chunks)
	update(progress.Update{
		Status:      progress.StatusChunking,
		TotalChunks: &total,
		Message:     fmt.Sprintf("%d chunks from %d documents", total, len(docs)),
	})
	logger.Info("chunking complete", "documents", len(docs), "chunks", total)

	// Enriching.
	enriched := make([]models.EnrichedChunk, total)
	for i, c := range chunks {
		enriched[i] = models.EnrichedChunk{Chunk: c}
	}
	indexBase := 0
	if req.EnableMetadata && p.enricher != nil && total > 0 {
		indexBase = enrichShare
		update(progress.Update{Status: progress.StatusEnriching, Message: "extracting metadata"})
		if err := p.enrichAll(ctx, req.UploadID, enriched, update); err != nil {
			return fail(StageEnriching, err)
		}
	}

	// Indexing.
	update(progress.Update{Status: progress.StatusIndexing, ProgressPercent: &indexBase, Message: "indexing vectors"})
	vectors, err := p.index(ctx, req, enriched, indexBase, update)
	if err != nil {
		return fail(StageIndexing, err)
	}

	result := &models.IngestResult{
		TotalDocuments:   len(docs),
		TotalChunks:      total,
		TotalVectors:     vectors,
		CollectionName:   req.Collection,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		EstimatedCostUSD: float64(vectors) * float64(p.embedder.Dimension()) / 1000 * embeddingCostPer1k,
	}
	if req.UploadID != "" {
		if err := p.tracker.Finish(req.UploadID, progress.StatusCompleted, result, ""); err != nil {
			logger.Warn("failed to record completion", "error", err)
		}
	}
	logger.Info("upload complete",
		"chunks", total, "vectors", vectors, "elapsed_ms", result.ProcessingTimeMs)
	return result, nil
}

// resolveDocuments fetches storage-referenced payloads and extracts text
// from non-plain content types.
func (p *Pipeline) resolveDocuments(ctx context.Context, in []models.Document) ([]models.Document, error) {
	out := make([]models.Document, len(in))
	for i, doc := range in {
		if doc.Content == "" && doc.StorageURL != "" {
			if p.objects == nil {
				return nil, fmt.Errorf("document %s references %s but no object store is configured", doc.Source, doc.StorageURL)
			}
			raw, err := p.objects.Fetch(ctx, doc.StorageURL)
			if err != nil {
				return nil, err
			}
			if p.extractor != nil {
				text, err := p.extractor.Text(raw, doc.ContentType)
				if err != nil {
					return nil, err
				}
				doc.Content = text
			} else {
				doc.Content = string(raw)
			}
		} else if doc.ContentType != "" && p.extractor != nil {
			text, err := p.extractor.Text([]byte(doc.Content), doc.ContentType)
			if err != nil {
				return nil, err
			}
			doc.Content = text
		}
		out[i] = doc
	}
	return out, nil
}

// enrichAll fans chunk enrichment out over a bounded worker pool. Per-chunk
// failures degrade to empty metadata; only cancellation aborts the stage.
func (p *Pipeline) enrichAll(ctx context.Context, uploadID string, enriched []models.EnrichedChunk, update func(progress.Update)) error {
	total := len(enriched)
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i := range enriched {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			meta, err := p.enricher.Enrich(gctx, enriched[i].Chunk)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Degraded success: the chunk ships without metadata.
				p.logger.Warn("chunk enrichment failed",
					"upload_id", uploadID, "chunk", enriched[i].Index, "error", err)
			} else {
				enriched[i].Metadata = &meta
			}

			// The counter and the emit stay under one lock so progress
			// events leave in order and stay monotonic.
			mu.Lock()
			done++
			current := done
			percent := current * enrichShare / total
			update(progress.Update{
				Status:          progress.StatusEnriching,
				CurrentChunk:    &current,
				ProgressPercent: &percent,
			})
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// index embeds chunks in batches and upserts them. The collection is ensured
// once, before the first upsert.
func (p *Pipeline) index(ctx context.Context, req Request, enriched []models.EnrichedChunk, base int, update func(progress.Update)) (int, error) {
	dimension := p.embedder.Dimension()
	ensured := false
	indexed := 0
	total := len(enriched)

	if total == 0 {
		if err := p.store.EnsureCollection(ctx, req.Collection, dimension, req.ForceRecreate); err != nil {
			return 0, err
		}
		return 0, nil
	}

	for start := 0; start < total; start += p.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		end := start + p.cfg.BatchSize
		if end > total {
			end = total
		}
		batch := enriched[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(batch) {
			return indexed, fmt.Errorf("embed batch: got %d vectors for %d chunks", len(vecs), len(batch))
		}
		if dimension <= 0 && len(vecs) > 0 {
			dimension = len(vecs[0])
		}

		if !ensured {
			if err := p.store.EnsureCollection(ctx, req.Collection, dimension, req.ForceRecreate); err != nil {
				return indexed, err
			}
			ensured = true
		}

		points := make([]vectorstore.Point, len(batch))
		for i, c := range batch {
			points[i] = vectorstore.Point{
				ID:      uuid.NewString(),
				Vector:  vecs[i],
				Payload: pointPayload(c),
			}
		}
		if err := p.store.Upsert(ctx, req.Collection, points); err != nil {
			return indexed, fmt.Errorf("upsert batch: %w", err)
		}

		indexed += len(batch)
		percent := base + indexed*(100-base)/total
		update(progress.Update{
			Status:          progress.StatusIndexing,
			ProgressPercent: &percent,
			Message:         fmt.Sprintf("indexed %d/%d vectors", indexed, total),
		})
	}
	return indexed, nil
}

// pointPayload flattens an enriched chunk into the opaque payload stored next
// to its vector.
func pointPayload(c models.EnrichedChunk) map[string]any {
	payload := map[string]any{
		"text":        c.Text,
		"source":      c.Source,
		"chunk_index": c.Index,
	}
	for k, v := range c.Attributes {
		payload[k] = v
	}
	if c.Metadata != nil {
		payload["summary"] = c.Metadata.Summary
		payload["keywords"] = c.Metadata.Keywords
		payload["topic"] = c.Metadata.Topic
		payload["complexity"] = c.Metadata.Complexity
		payload["entities"] = c.Metadata.Entities
		payload["sentiment"] = c.Metadata.Sentiment
	}
	return payload
}

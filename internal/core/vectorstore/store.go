// Package vectorstore wraps the external vector database. Two backends
// implement the same Store interface: a Qdrant Cloud REST client and a
// pgvector-backed Postgres store. The Qdrant client sends every remote
// operation through retry and a per-endpoint circuit breaker; the pgvector
// store issues each statement once, with no retry and no circuit breaker.
package vectorstore

import (
	"context"
	"fmt"
)

// ErrKind classifies a vector store failure.
type ErrKind string

const (
	KindUnavailable  ErrKind = "unavailable"
	KindConflict     ErrKind = "conflict"
	KindNotFound     ErrKind = "not_found"
	KindBadDimension ErrKind = "bad_dimension"
	KindOther        ErrKind = "other"
)

// StoreError wraps a failure from the vector database.
type StoreError struct {
	Kind ErrKind
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store: %s: %v", e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Point is one vector plus its opaque payload, addressed by ID so upserts
// are idempotent.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchResult is one scored hit. Vector is populated when the caller asked
// for it (MMR needs candidate vectors).
type SearchResult struct {
	Payload map[string]any
	Score   float64
	Vector  []float32
}

// CollectionStats summarizes one collection.
type CollectionStats struct {
	Points    int64  `json:"points"`
	SizeBytes int64  `json:"size_bytes"`
	Dimension int    `json:"dimension"`
	Status    string `json:"status,omitempty"`
}

// HealthStatus reports backend reachability.
type HealthStatus struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Detail    string  `json:"detail,omitempty"`
}

// SearchOptions tunes a Search call.
type SearchOptions struct {
	K           int
	Filter      map[string]any
	WithVectors bool
}

// Store is the vector database surface consumed by the pipeline and the QA
// service.
type Store interface {
	// EnsureCollection creates the collection if missing and verifies its
	// dimension if present. Idempotent. When its probe of an existing
	// collection fails, the Qdrant backend falls back to one forced recreate
	// before surfacing the error; the pgvector backend returns the probe
	// failure as KindUnavailable without a recreate.
	EnsureCollection(ctx context.Context, name string, dimension int, forceRecreate bool) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]SearchResult, error)
	Delete(ctx context.Context, collection string) error
	Stats(ctx context.Context, collection string) (CollectionStats, error)
	Collections(ctx context.Context) ([]string, error)
	Health(ctx context.Context) HealthStatus
}

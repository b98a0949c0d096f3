// Package chunker splits documents into token-bounded chunks. Strategies:
// recursive (separator backoff), markdown and html (structure-preserving) and
// semantic (embedding-driven topic boundaries).
package chunker

import (
	"context"
	"fmt"

	"github.com/markdave123-py/ragline/internal/core/llm"
	"github.com/markdave123-py/ragline/internal/models"
)

const (
	StrategyRecursive = "recursive"
	StrategySemantic  = "semantic"
	StrategyMarkdown  = "markdown"
	StrategyHTML      = "html"
)

// Splitter turns one document into its ordered chunks. Every produced chunk
// satisfies token_count(text) <= ChunkSize. The context only matters to
// strategies that reach the network (semantic).
type Splitter interface {
	Split(ctx context.Context, doc models.Document) ([]models.Chunk, error)
}

// Options tunes a splitter. ChunkSize and ChunkOverlap are measured in
// tokens, not characters.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	CountTokens  TokenCounter
}

func (o Options) normalized() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1000
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = o.ChunkSize / 4
	}
	if o.CountTokens == nil {
		o.CountTokens = NewTokenCounter()
	}
	return o
}

// New selects a splitter by strategy name. The embedder is only consulted by
// the semantic strategy; other strategies never touch the network.
func New(strategy string, opts Options, embedder llm.Embedder) (Splitter, error) {
	switch strategy {
	case "", StrategyRecursive:
		return NewRecursive(opts), nil
	case StrategyMarkdown:
		return NewMarkdown(opts), nil
	case StrategyHTML:
		return NewHTML(opts), nil
	case StrategySemantic:
		if embedder == nil {
			return nil, fmt.Errorf("semantic chunking requires an embedder")
		}
		return NewSemantic(opts, embedder), nil
	default:
		return nil, fmt.Errorf("unknown chunking strategy: %s", strategy)
	}
}

// buildChunks assembles chunk values from split texts, inheriting the
// document's metadata bag.
func buildChunks(doc models.Document, texts []string, count TokenCounter, startIndex int, extra map[string]any) []models.Chunk {
	chunks := make([]models.Chunk, 0, len(texts))
	for i, text := range texts {
		attrs := make(map[string]any, len(doc.Metadata)+len(extra))
		for k, v := range doc.Metadata {
			attrs[k] = v
		}
		for k, v := range extra {
			attrs[k] = v
		}
		chunks = append(chunks, models.Chunk{
			Text:       text,
			Source:     doc.Source,
			Index:      startIndex + i,
			TokenCount: count(text),
			Attributes: attrs,
		})
	}
	return chunks
}

// Package llm provides the provider-agnostic embedding and chat adapters.
// Every adapter acquires a rate-limit slot before each outbound call and
// classifies provider failures into ProviderError kinds.
package llm

import (
	"context"
)

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Chat generates a completion from a system and user prompt. maxTokens <= 0
// leaves the provider default in place.
type Chat interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float32, maxTokens int) (string, error)
	Model() string
}

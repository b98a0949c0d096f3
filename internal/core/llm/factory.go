package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/markdave123-py/ragline/internal/config"
	"github.com/markdave123-py/ragline/internal/core/ratelimit"
)

// Supported provider names, switchable independently for embeddings, metadata
// extraction and question answering.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// NewEmbedder builds the embedding adapter named by provider. Consumers only
// see the Embedder interface, so switching providers is a config change.
func NewEmbedder(ctx context.Context, provider string, cfg *config.Config, limiter *ratelimit.Limiter, logger *slog.Logger) (Embedder, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.EmbedDim, limiter, logger)
	case ProviderGemini:
		return NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel, cfg.EmbedDim, limiter, logger)
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", provider)
	}
}

// NewChat builds the chat adapter named by provider.
func NewChat(ctx context.Context, provider string, cfg *config.Config, limiter *ratelimit.Limiter, logger *slog.Logger) (Chat, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIChat(cfg.OpenAIAPIKey, cfg.OpenAIModel, limiter, logger)
	case ProviderGemini:
		return NewGeminiChat(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, limiter, logger)
	default:
		return nil, fmt.Errorf("unknown chat provider: %s", provider)
	}
}

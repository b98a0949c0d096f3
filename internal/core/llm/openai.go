package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/ragline/internal/core/ratelimit"
)

// classifyOpenAI converts a go-openai error into a ProviderError.
func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "openai", Kind: kindForStatus(apiErr.HTTPStatusCode), Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: "openai", Kind: kindForStatus(reqErr.HTTPStatusCode), Err: err}
	}
	return &ProviderError{Provider: "openai", Kind: KindUnavailable, Err: err}
}

type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
}

func NewOpenAIEmbedder(apiKey, model string, dimension int, limiter *ratelimit.Limiter, logger *slog.Logger) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(openai.DefaultConfig(apiKey)),
		model:     model,
		dimension: dimension,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// EmbedDocuments embeds all texts in one provider call; the call costs one
// rate-limit slot regardless of batch size.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out [][]float32
	err := withRetry(ctx, e.logger, "openai", "embed_documents", func() error {
		if err := e.limiter.Wait(ctx, "openai_embeddings"); err != nil {
			return err
		}
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model:      openai.EmbeddingModel(e.model),
			Input:      texts,
			Dimensions: e.dimension,
		})
		if err != nil {
			return classifyOpenAI(err)
		}
		out = make([][]float32, len(resp.Data))
		for i, datum := range resp.Data {
			if e.dimension > 0 && len(datum.Embedding) != e.dimension {
				return &ProviderError{
					Provider: "openai",
					Kind:     KindBadRequest,
					Err:      fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimension, len(datum.Embedding)),
				}
			}
			out[i] = datum.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, newError("openai", KindOther, fmt.Errorf("no embedding returned"))
	}
	return vecs[0], nil
}

type OpenAIChat struct {
	client  *openai.Client
	model   string
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

func NewOpenAIChat(apiKey, model string, limiter *ratelimit.Limiter, logger *slog.Logger) (*OpenAIChat, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIChat{
		client:  openai.NewClientWithConfig(openai.DefaultConfig(apiKey)),
		model:   model,
		limiter: limiter,
		logger:  logger,
	}, nil
}

func (c *OpenAIChat) Model() string { return c.model }

func (c *OpenAIChat) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float32, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	var answer string
	err := withRetry(ctx, c.logger, "openai", "chat_completion", func() error {
		if err := c.limiter.Wait(ctx, "openai_chat"); err != nil {
			return err
		}
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return classifyOpenAI(err)
		}
		if len(resp.Choices) == 0 {
			return newError("openai", KindOther, fmt.Errorf("chat completion returned no choices"))
		}
		answer = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/markdave123-py/ragline/internal/core/ratelimit"
)

// classifyGemini converts a generative-ai-go error into a ProviderError.
func classifyGemini(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "gemini", Kind: kindForStatus(apiErr.Code), Err: err}
	}
	return &ProviderError{Provider: "gemini", Kind: KindUnavailable, Err: err}
}

type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimension int, limiter *ratelimit.Limiter, logger *slog.Logger) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini provider selected but GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if model == "" {
		model = "text-embedding-004"
	}
	return &GeminiEmbedder{
		client:    cl,
		model:     model,
		dimension: dimension,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) Dimension() int { return g.dimension }

// EmbedDocuments batches all texts in one request via BatchEmbedContents.
func (g *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	var out [][]float32
	err := withRetry(ctx, g.logger, "gemini", "embed_documents", func() error {
		if err := g.limiter.Wait(ctx, "gemini_embeddings"); err != nil {
			return err
		}
		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return classifyGemini(err)
		}
		out = make([][]float32, 0, len(resp.Embeddings))
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	em := g.client.EmbeddingModel(g.model)

	var vec []float32
	err := withRetry(ctx, g.logger, "gemini", "embed_query", func() error {
		if err := g.limiter.Wait(ctx, "gemini_embeddings"); err != nil {
			return err
		}
		resp, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return classifyGemini(err)
		}
		if resp.Embedding == nil {
			return newError("gemini", KindOther, fmt.Errorf("no embedding returned"))
		}
		vec = resp.Embedding.Values
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

type GeminiChat struct {
	client  *genai.Client
	model   string
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

func NewGeminiChat(ctx context.Context, apiKey, model string, limiter *ratelimit.Limiter, logger *slog.Logger) (*GeminiChat, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini provider selected but GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiChat{client: cl, model: model, limiter: limiter, logger: logger}, nil
}

func (g *GeminiChat) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiChat) Model() string { return g.model }

func (g *GeminiChat) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float32, maxTokens int) (string, error) {
	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(temperature)
	if maxTokens > 0 {
		m.SetMaxOutputTokens(int32(maxTokens))
	}
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	var answer string
	err := withRetry(ctx, g.logger, "gemini", "chat_completion", func() error {
		if err := g.limiter.Wait(ctx, "gemini_chat"); err != nil {
			return err
		}
		resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
		if err != nil {
			return classifyGemini(err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			answer = ""
			return nil
		}
		var b strings.Builder
		for _, p := range resp.Candidates[0].Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		answer = b.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

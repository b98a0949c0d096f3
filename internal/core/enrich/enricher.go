// Package enrich asks a chat adapter for per-chunk metadata: summary,
// keywords, topic, complexity, entities and sentiment. Enrichment is best
// effort: a chunk that cannot be enriched ships with empty metadata and the
// upload keeps going.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/markdave123-py/ragline/internal/core/llm"
	"github.com/markdave123-py/ragline/internal/models"
)

// promptLimit caps how much chunk text is sent for analysis.
const promptLimit = 1000

const systemPrompt = `You are a precise document analyst. Respond with a single JSON object and nothing else. Keys: "summary" (1-2 sentence string), "keywords" (5-10 strings), "topic" (string), "complexity" ("simple", "medium" or "complex"), "entities" (array of named people, places and concepts), "sentiment" ("positive", "neutral" or "negative").`

type Enricher struct {
	chat   llm.Chat
	logger *slog.Logger
}

func New(chat llm.Chat, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{chat: chat, logger: logger}
}

// Enrich extracts metadata for one chunk. The returned error is only set for
// provider failures the pipeline may want to count; parse trouble degrades to
// empty metadata silently apart from a warning.
func (e *Enricher) Enrich(ctx context.Context, chunk models.Chunk) (models.ChunkMetadata, error) {
	text := chunk.Text
	if len(text) > promptLimit {
		text = text[:promptLimit]
	}
	userPrompt := fmt.Sprintf("Analyze the following text and extract metadata:\n\nTEXT:\n%s", text)

	raw, err := e.chat.Complete(ctx, systemPrompt, userPrompt, 0, 0)
	if err != nil {
		return models.ChunkMetadata{}, err
	}

	meta, parseErr := parseMetadata(raw)
	if parseErr != nil {
		e.logger.Warn("metadata response unparsable, using empty metadata",
			"source", chunk.Source, "chunk", chunk.Index, "error", parseErr)
		return models.ChunkMetadata{}, nil
	}
	return meta, nil
}

// rawMetadata mirrors the JSON the model is asked for, with loose typing so
// minor drift (string vs array, stray fields) does not fail the parse.
type rawMetadata struct {
	Summary    string          `json:"summary"`
	Keywords   json.RawMessage `json:"keywords"`
	Topic      string          `json:"topic"`
	Complexity string          `json:"complexity"`
	Entities   json.RawMessage `json:"entities"`
	Sentiment  string          `json:"sentiment"`
}

func parseMetadata(raw string) (models.ChunkMetadata, error) {
	body := extractJSON(raw)
	if body == "" {
		return models.ChunkMetadata{}, fmt.Errorf("no JSON object in response")
	}

	var rm rawMetadata
	if err := json.Unmarshal([]byte(body), &rm); err != nil {
		return models.ChunkMetadata{}, fmt.Errorf("decode metadata: %w", err)
	}

	return models.ChunkMetadata{
		Summary:    strings.TrimSpace(rm.Summary),
		Keywords:   stringList(rm.Keywords),
		Topic:      strings.TrimSpace(rm.Topic),
		Complexity: normalizeComplexity(rm.Complexity),
		Entities:   stringList(rm.Entities),
		Sentiment:  normalizeSentiment(rm.Sentiment),
	}, nil
}

// extractJSON pulls the outermost JSON object out of a response that may be
// wrapped in prose or markdown code fences.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// stringList accepts either a JSON array of strings or a single string with
// comma separators.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return trimAll(list)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return trimAll(strings.Split(single, ","))
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeComplexity(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "simple", "easy", "low":
		return "simple"
	case "medium", "moderate":
		return "medium"
	case "complex", "hard", "high":
		return "complex"
	case "":
		return ""
	default:
		return "medium"
	}
}

func normalizeSentiment(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "positive", "neutral", "negative":
		return strings.ToLower(strings.TrimSpace(v))
	case "":
		return ""
	default:
		return "neutral"
	}
}

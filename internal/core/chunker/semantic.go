package chunker

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/markdave123-py/ragline/internal/core/llm"
	"github.com/markdave123-py/ragline/internal/models"
)

// breakpointPercentile selects the similarity threshold: boundaries open
// where adjacent-sentence similarity falls at or below this percentile of all
// observed similarities.
const breakpointPercentile = 25

var sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]*\s*`)

// Semantic splits where successive-sentence embedding similarity drops to or
// below an adaptive threshold. Each resulting block is then recursive-split to
// honor the chunk size. This is the only strategy that calls the network, so
// it shares the provider rate budget through the embedder.
type Semantic struct {
	opts      Options
	embedder  llm.Embedder
	recursive *Recursive
}

func NewSemantic(opts Options, embedder llm.Embedder) *Semantic {
	opts = opts.normalized()
	return &Semantic{opts: opts, embedder: embedder, recursive: NewRecursive(opts)}
}

func (s *Semantic) Split(ctx context.Context, doc models.Document) ([]models.Chunk, error) {
	sentences := splitSentences(doc.Content)
	if len(sentences) < 3 {
		return s.recursive.Split(ctx, doc)
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("semantic boundary embeddings: %w", err)
	}
	if len(vectors) != len(sentences) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d sentences", len(vectors), len(sentences))
	}

	sims := make([]float64, len(sentences)-1)
	for i := range sims {
		sims[i] = cosine(vectors[i], vectors[i+1])
	}
	threshold := percentile(sims, breakpointPercentile)

	var blocks []string
	var buf []string
	for i, sent := range sentences {
		buf = append(buf, sent)
		if i < len(sims) && sims[i] <= threshold {
			blocks = append(blocks, strings.TrimSpace(strings.Join(buf, "")))
			buf = nil
		}
	}
	if len(buf) > 0 {
		blocks = append(blocks, strings.TrimSpace(strings.Join(buf, "")))
	}

	var texts []string
	for _, block := range blocks {
		texts = append(texts, s.recursive.SplitText(block)...)
	}
	return buildChunks(doc, texts, s.opts.CountTokens, 0, nil), nil
}

func splitSentences(text string) []string {
	matches := sentenceRe.FindAllString(text, -1)
	var out []string
	for _, m := range matches {
		if strings.TrimSpace(m) != "" {
			out = append(out, m)
		}
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func percentile(values []float64, p int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/ragline/internal/models"
)

func testOpts(size, overlap int) Options {
	return Options{ChunkSize: size, ChunkOverlap: overlap, CountTokens: ApproxTokens}
}

func TestRecursiveSmallDocumentSingleChunk(t *testing.T) {
	r := NewRecursive(testOpts(100, 10))
	chunks, err := r.Split(context.Background(), models.Document{Content: "hello world", Source: "a.txt"})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, "a.txt", chunks[0].Source)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestRecursiveHonorsTokenBudget(t *testing.T) {
	paragraphs := make([]string, 40)
	for i := range paragraphs {
		paragraphs[i] = strings.Repeat("lorem ipsum dolor sit amet ", 6)
	}
	doc := models.Document{Content: strings.Join(paragraphs, "\n\n"), Source: "b.txt"}

	r := NewRecursive(testOpts(120, 20))
	chunks, err := r.Split(context.Background(), doc)

	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, ApproxTokens(c.Text), 120, "chunk %d exceeds budget", c.Index)
	}
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestRecursiveOverlapCarriesTail(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = strings.Repeat("x", 40) // ~10 tokens per line
	}
	doc := models.Document{Content: strings.Join(lines, "\n"), Source: "c.txt"}

	r := NewRecursive(testOpts(50, 15))
	chunks, err := r.Split(context.Background(), doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// The tail of chunk N reappears at the head of chunk N+1.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		tail := prev[strings.LastIndex(prev, "\n")+1:]
		assert.True(t, strings.HasPrefix(chunks[i].Text, tail))
	}
}

func TestRecursiveOverlapNeverOverflowsBudget(t *testing.T) {
	// Several short lines followed by a near-budget line: the overlap tail
	// reseeded after a flush must not push tail+piece past the budget.
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, strings.Repeat("w", 40)) // ~10 tokens each
	}
	lines = append(lines, strings.Repeat("y", 192)) // ~48 tokens, near the budget
	doc := models.Document{Content: strings.Join(lines, "\n"), Source: "g.txt"}

	r := NewRecursive(testOpts(50, 20))
	chunks, err := r.Split(context.Background(), doc)

	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, ApproxTokens(c.Text), 50, "chunk %d exceeds budget", c.Index)
	}
	assert.Contains(t, chunks[len(chunks)-1].Text, strings.Repeat("y", 192))
}

func TestRecursiveHardSplitWithoutSeparators(t *testing.T) {
	doc := models.Document{Content: strings.Repeat("a", 2000), Source: "d.txt"}

	r := NewRecursive(testOpts(100, 0))
	chunks, err := r.Split(context.Background(), doc)

	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, ApproxTokens(c.Text), 100)
	}
	// No content is lost on a hard split.
	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c.Text)
	}
	assert.Equal(t, doc.Content, rebuilt.String())
}

func TestRecursiveEmptyDocument(t *testing.T) {
	r := NewRecursive(testOpts(100, 0))
	chunks, err := r.Split(context.Background(), models.Document{Content: "   \n  ", Source: "e.txt"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRecursiveInheritsDocumentMetadata(t *testing.T) {
	doc := models.Document{
		Content:  "short text",
		Source:   "f.txt",
		Metadata: map[string]any{"lang": "en"},
	}
	r := NewRecursive(testOpts(100, 0))
	chunks, err := r.Split(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "en", chunks[0].Attributes["lang"])
}

func TestMarkdownSectionsCarryHeadings(t *testing.T) {
	content := "# Intro\n\nWelcome text here.\n\n## Usage\n\nRun the binary.\n\nMore detail lines.\n"
	m := NewMarkdown(testOpts(200, 0))
	chunks, err := m.Split(context.Background(), models.Document{Content: content, Source: "readme.md"})

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Intro", chunks[0].Attributes["heading"])
	assert.Contains(t, chunks[0].Text, "Welcome text")
	assert.Equal(t, "Usage", chunks[1].Attributes["heading"])
	assert.Contains(t, chunks[1].Text, "Run the binary")
}

func TestMarkdownPreambleHasNoHeading(t *testing.T) {
	content := "Preamble before any heading.\n\n# First\n\nBody.\n"
	m := NewMarkdown(testOpts(200, 0))
	chunks, err := m.Split(context.Background(), models.Document{Content: content, Source: "doc.md"})

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	_, hasHeading := chunks[0].Attributes["heading"]
	assert.False(t, hasHeading)
	assert.Equal(t, "First", chunks[1].Attributes["heading"])
}

func TestHTMLSplitsAtHeadings(t *testing.T) {
	content := `<html><body>
<h1>Overview</h1><p>First paragraph.</p>
<h2>Details</h2><p>Second paragraph.</p><li>item one</li>
</body></html>`
	h := NewHTML(testOpts(200, 0))
	chunks, err := h.Split(context.Background(), models.Document{Content: content, Source: "page.html"})

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Overview", chunks[0].Attributes["heading"])
	assert.Contains(t, chunks[0].Text, "First paragraph.")
	assert.Equal(t, "Details", chunks[1].Attributes["heading"])
	assert.Contains(t, chunks[1].Text, "item one")
}

func TestHTMLWithoutHeadings(t *testing.T) {
	h := NewHTML(testOpts(200, 0))
	chunks, err := h.Split(context.Background(), models.Document{Content: "<p>just a paragraph</p>", Source: "p.html"})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "just a paragraph")
}

// boundaryEmbedder returns vectors that flip direction per configured group,
// forcing semantic boundaries at group edges.
type boundaryEmbedder struct {
	groups []int // group id per sentence, in order
	calls  int
}

func (f *boundaryEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		group := 0
		if i < len(f.groups) {
			group = f.groups[i]
		}
		vec := make([]float32, 4)
		vec[group%4] = 1
		out[i] = vec
	}
	return out, nil
}

func (f *boundaryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedDocuments(ctx, []string{text})
	return vecs[0], err
}

func (f *boundaryEmbedder) Dimension() int { return 4 }

func TestSemanticSplitsAtSimilarityDrop(t *testing.T) {
	content := "Dogs are loyal. Dogs love walks. Cats are aloof. Cats nap all day."
	emb := &boundaryEmbedder{groups: []int{0, 0, 1, 1}}

	s := NewSemantic(testOpts(500, 0), emb)
	chunks, err := s.Split(context.Background(), models.Document{Content: content, Source: "pets.txt"})

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0].Text, "Dogs love walks")
	assert.Contains(t, chunks[1].Text, "Cats are aloof")
	assert.Equal(t, 1, emb.calls)
}

func TestSemanticFallsBackForShortInput(t *testing.T) {
	emb := &boundaryEmbedder{}
	s := NewSemantic(testOpts(500, 0), emb)
	chunks, err := s.Split(context.Background(), models.Document{Content: "One sentence only.", Source: "s.txt"})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Zero(t, emb.calls)
}

func TestFactory(t *testing.T) {
	for _, strategy := range []string{"", StrategyRecursive, StrategyMarkdown, StrategyHTML} {
		s, err := New(strategy, testOpts(100, 10), nil)
		require.NoError(t, err, strategy)
		assert.NotNil(t, s)
	}

	_, err := New(StrategySemantic, testOpts(100, 10), nil)
	assert.Error(t, err)

	s, err := New(StrategySemantic, testOpts(100, 10), &boundaryEmbedder{})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = New("sliding", testOpts(100, 10), nil)
	assert.Error(t, err)
}

func TestPercentile(t *testing.T) {
	vals := []float64{0.9, 0.1, 0.5, 0.7, 0.3}
	assert.InDelta(t, 0.3, percentile(vals, 25), 1e-9)
	assert.Zero(t, percentile(nil, 50))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 2}))
}

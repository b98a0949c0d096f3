package chunker

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/markdave123-py/ragline/internal/models"
)

// HTML splits at h1-h3 boundaries in document order; body elements between
// headings form one section, split recursively and tagged with the nearest
// ancestor heading.
type HTML struct {
	opts      Options
	recursive *Recursive
}

func NewHTML(opts Options) *HTML {
	opts = opts.normalized()
	sectionOpts := opts
	sectionOpts.ChunkOverlap = 0
	return &HTML{opts: opts, recursive: NewRecursive(sectionOpts)}
}

func (h *HTML) Split(_ context.Context, doc models.Document) ([]models.Chunk, error) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc.Content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var sections []section
	var heading string
	var body strings.Builder

	flush := func() {
		text := strings.TrimSpace(body.String())
		if text != "" {
			sections = append(sections, section{heading: heading, body: text})
		}
		body.Reset()
	}

	parsed.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(sel) {
		case "h1", "h2", "h3":
			flush()
			heading = text
		default:
			body.WriteString(text)
			body.WriteString("\n")
		}
	})
	flush()

	// Documents without structural elements fall back to the stripped text.
	if len(sections) == 0 {
		if text := strings.TrimSpace(parsed.Text()); text != "" {
			sections = append(sections, section{body: text})
		}
	}

	var chunks []models.Chunk
	for _, sec := range sections {
		texts := h.recursive.SplitText(sec.body)
		var extra map[string]any
		if sec.heading != "" {
			extra = map[string]any{"heading": sec.heading}
		}
		chunks = append(chunks, buildChunks(doc, texts, h.opts.CountTokens, len(chunks), extra)...)
	}
	return chunks, nil
}

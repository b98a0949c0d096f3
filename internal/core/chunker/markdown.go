package chunker

import (
	"context"
	"regexp"
	"strings"

	"github.com/markdave123-py/ragline/internal/models"
)

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// Markdown splits at heading boundaries; each section is further split with
// the recursive strategy and carries its nearest heading as metadata. Section
// boundaries are preserved, so no overlap bleeds across headings.
type Markdown struct {
	opts      Options
	recursive *Recursive
}

func NewMarkdown(opts Options) *Markdown {
	opts = opts.normalized()
	sectionOpts := opts
	sectionOpts.ChunkOverlap = 0
	return &Markdown{opts: opts, recursive: NewRecursive(sectionOpts)}
}

type section struct {
	heading string
	body    string
}

func (m *Markdown) Split(_ context.Context, doc models.Document) ([]models.Chunk, error) {
	sections := splitMarkdownSections(doc.Content)

	var chunks []models.Chunk
	for _, sec := range sections {
		texts := m.recursive.SplitText(sec.body)
		var extra map[string]any
		if sec.heading != "" {
			extra = map[string]any{"heading": sec.heading}
		}
		chunks = append(chunks, buildChunks(doc, texts, m.opts.CountTokens, len(chunks), extra)...)
	}
	return chunks, nil
}

func splitMarkdownSections(content string) []section {
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

	for _, line := range strings.Split(content, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			heading = strings.TrimSpace(m[2])
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return sections
}

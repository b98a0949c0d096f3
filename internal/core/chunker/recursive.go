package chunker

import (
	"context"
	"strings"

	"github.com/markdave123-py/ragline/internal/models"
)

// defaultSeparators is the backoff order: paragraph, line, word, hard split.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Recursive splits text by trying a descending list of separators, merging
// the pieces back into token-bounded chunks with a configurable overlap tail.
type Recursive struct {
	opts Options
}

func NewRecursive(opts Options) *Recursive {
	return &Recursive{opts: opts.normalized()}
}

func (r *Recursive) Split(_ context.Context, doc models.Document) ([]models.Chunk, error) {
	text := strings.TrimSpace(doc.Content)
	if text == "" {
		return nil, nil
	}
	texts := r.splitText(text, defaultSeparators)
	return buildChunks(doc, texts, r.opts.CountTokens, 0, nil), nil
}

// SplitText exposes the raw splitter for strategies that post-process their
// own sections (markdown, html, semantic).
func (r *Recursive) SplitText(text string) []string {
	return r.splitText(text, defaultSeparators)
}

func (r *Recursive) splitText(text string, separators []string) []string {
	count := r.opts.CountTokens
	if count(text) <= r.opts.ChunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	// Pick the first separator present in the text; the empty separator is
	// the hard-split last resort.
	sep := ""
	var rest []string
	for i, s := range separators {
		if s == "" {
			sep = s
			rest = nil
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return r.hardSplit(text)
	}

	splits := strings.Split(text, sep)
	var final []string
	var fitting []string
	for _, piece := range splits {
		if count(piece) <= r.opts.ChunkSize {
			fitting = append(fitting, piece)
			continue
		}
		// Oversized piece: flush what fits, then recurse with finer separators.
		if len(fitting) > 0 {
			final = append(final, r.merge(fitting, sep)...)
			fitting = nil
		}
		final = append(final, r.splitText(piece, rest)...)
	}
	if len(fitting) > 0 {
		final = append(final, r.merge(fitting, sep)...)
	}
	return final
}

// merge greedily joins pieces with sep into chunks not exceeding ChunkSize,
// seeding each new chunk with an overlap tail from the previous one.
func (r *Recursive) merge(pieces []string, sep string) []string {
	count := r.opts.CountTokens
	sepTokens := count(sep)

	var out []string
	var buf []string
	bufTokens := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(buf, sep))
		if joined != "" {
			out = append(out, joined)
		}

		if r.opts.ChunkOverlap <= 0 {
			buf = buf[:0]
			bufTokens = 0
			return
		}
		// Keep a tail whose token sum stays within the overlap budget.
		var keep []string
		remain := r.opts.ChunkOverlap
		for j := len(buf) - 1; j >= 0; j-- {
			t := count(buf[j])
			if t > remain {
				break
			}
			keep = append([]string{buf[j]}, keep...)
			remain -= t
		}
		buf = keep
		bufTokens = 0
		for _, s := range buf {
			bufTokens += count(s) + sepTokens
		}
	}

	for _, piece := range pieces {
		t := count(piece) + sepTokens
		if bufTokens+t > r.opts.ChunkSize && len(buf) > 0 {
			flush()
			// The reseeded overlap tail may still crowd out a large piece;
			// shed seeds from the front until it fits. Their content
			// already shipped with the previous chunk.
			for len(buf) > 0 && bufTokens+t > r.opts.ChunkSize {
				bufTokens -= count(buf[0]) + sepTokens
				buf = buf[1:]
			}
		}
		buf = append(buf, piece)
		bufTokens += t
	}
	flush()
	// Drop the trailing overlap-only buffer; its content already shipped.
	return out
}

// hardSplit cuts text by runes so every piece fits the token budget. Last
// resort for content with no usable separators.
func (r *Recursive) hardSplit(text string) []string {
	count := r.opts.CountTokens
	runes := []rune(text)

	var out []string
	for len(runes) > 0 {
		n := len(runes)
		for count(string(runes[:n])) > r.opts.ChunkSize {
			n = n * 9 / 10
			if n == 0 {
				n = 1
				break
			}
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

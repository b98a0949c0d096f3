// Package extract converts raw document payloads to plain text ahead of
// chunking. Plain text and markdown pass through untouched; everything else
// goes through docconv.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
)

type Extractor struct {
	useReadability bool
}

func New(useReadability bool) *Extractor {
	return &Extractor{useReadability: useReadability}
}

// Text returns the plain-text body for content of the given type. An empty
// content type is treated as plain text.
func (e *Extractor) Text(content []byte, contentType string) (string, error) {
	mime := contentType
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(strings.ToLower(mime))

	switch mime {
	case "", "text/plain", "text/markdown":
		return string(content), nil
	}

	res, err := docconv.Convert(bytes.NewReader(content), mime, e.useReadability)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", mime, err)
	}
	if res.Body == "" {
		return "", fmt.Errorf("extract %s: empty body", mime)
	}
	return res.Body, nil
}

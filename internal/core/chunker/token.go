package chunker

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text length in model tokens.
type TokenCounter func(text string) int

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// NewTokenCounter returns a counter backed by the cl100k_base BPE, matching
// the tokenization of the supported embedding and chat models. When the
// encoding cannot be loaded (offline environments) it falls back to a cheap
// rune estimate (~4 chars per token).
func NewTokenCounter() TokenCounter {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken unavailable, using approximate token counts", "error", err)
			return
		}
		encoding = enc
	})
	if encoding == nil {
		return ApproxTokens
	}
	enc := encoding
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
}

// ApproxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func ApproxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

package handlers

import (
	"io"
	"log/slog"

	"github.com/markdave123-py/ragline/internal/core/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLimiter() *ratelimit.Limiter {
	return ratelimit.New(10, testLogger())
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a provider failure. Auth and BadRequest are never retried;
// QuotaExceeded and Unavailable go through backoff first.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindBadRequest    Kind = "bad_request"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindUnavailable   Kind = "unavailable"
	KindOther         Kind = "other"
)

// ProviderError wraps a failure from an embedding or chat provider.
type ProviderError struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// newError builds a ProviderError, passing through errors already classified.
func newError(provider string, kind Kind, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// kindForStatus maps an HTTP status from a provider into an error kind.
func kindForStatus(code int) Kind {
	switch {
	case code == 401 || code == 403:
		return KindAuth
	case code == 429:
		return KindQuotaExceeded
	case code == 408 || code >= 500:
		return KindUnavailable
	case code >= 400:
		return KindBadRequest
	default:
		return KindOther
	}
}

// retryable reports whether err is worth another attempt: provider throttling,
// 5xx responses and transport timeouts qualify.
func retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == KindQuotaExceeded || pe.Kind == KindUnavailable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

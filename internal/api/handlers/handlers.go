// Package handlers implements the HTTP and WebSocket surface. Handlers stay
// thin: validate, hand work to the core services, map typed errors to status
// codes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/markdave123-py/ragline/internal/core/llm"
	"github.com/markdave123-py/ragline/internal/core/qa"
	"github.com/markdave123-py/ragline/internal/core/vectorstore"
)

// statusClientClosedRequest mirrors nginx's non-standard code for a client
// that went away mid-request.
const statusClientClosedRequest = 499

// Scheduler runs a function on the background executor, detached from the
// request lifetime but tied to process shutdown. It refuses work once
// shutdown has begun.
type Scheduler interface {
	Schedule(fn func(ctx context.Context)) error
}

type errorBody struct {
	Error      string  `json:"error"`
	Detail     string  `json:"detail"`
	Suggestion string  `json:"suggestion,omitempty"`
	Timestamp  float64 `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{
		Error:     http.StatusText(status),
		Detail:    detail,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	})
}

// writeServiceError maps core error types onto wire responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var unavailable *qa.UnavailableError
	if errors.As(err, &unavailable) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:      http.StatusText(http.StatusServiceUnavailable),
			Detail:     unavailable.Detail,
			Suggestion: unavailable.Suggestion,
			Timestamp:  float64(time.Now().UnixMilli()) / 1000,
		})
		return
	}

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		writeError(w, statusClientClosedRequest, "request cancelled")
		return
	}

	var storeErr *vectorstore.StoreError
	if errors.As(err, &storeErr) {
		switch storeErr.Kind {
		case vectorstore.KindNotFound:
			writeError(w, http.StatusNotFound, err.Error())
		case vectorstore.KindUnavailable:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Kind {
		case llm.KindAuth, llm.KindBadRequest:
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}

	writeError(w, http.StatusInternalServerError, err.Error())
}

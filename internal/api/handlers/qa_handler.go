package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/markdave123-py/ragline/internal/core/qa"
)

const (
	minK     = 1
	maxK     = 20
	defaultK = 5
)

type QAHandler struct {
	service *qa.Service
	logger  *slog.Logger
}

func NewQAHandler(service *qa.Service, logger *slog.Logger) *QAHandler {
	return &QAHandler{service: service, logger: logger}
}

type questionRequest struct {
	Question       string `json:"question"`
	QueryType      string `json:"query_type"`
	K              int    `json:"k"`
	CollectionName string `json:"collection_name"`
}

func validateK(k int) (int, error) {
	if k == 0 {
		return defaultK, nil
	}
	if k < minK || k > maxK {
		return 0, fmt.Errorf("k must be between %d and %d", minK, maxK)
	}
	return k, nil
}

// Question answers one question; on a cold service it auto-initializes
// against the configured default collection first.
func (h *QAHandler) Question(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question must not be empty")
		return
	}
	k, err := validateK(req.K)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Answer(r.Context(), req.Question, req.QueryType, k, req.CollectionName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type searchRequest struct {
	Query     string `json:"query"`
	K         int    `json:"k"`
	QueryType string `json:"query_type"`
}

// Search returns retrieved documents without generation.
func (h *QAHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	k, err := validateK(req.K)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	hits, err := h.service.Search(r.Context(), req.Query, k, req.QueryType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"documents":      hits,
		"count":          len(hits),
		"search_time_ms": float64(time.Since(start).Microseconds()) / 1000,
	})
}

type batchRequest struct {
	Questions []string `json:"questions"`
	QueryType string   `json:"query_type"`
	K         int      `json:"k"`
}

// BatchQuestions answers several questions; per-question failures come back
// inline rather than failing the batch.
func (h *QAHandler) BatchQuestions(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Questions) == 0 {
		writeError(w, http.StatusBadRequest, "questions must not be empty")
		return
	}
	k, err := validateK(req.K)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := h.service.BatchAnswer(r.Context(), req.Questions, req.QueryType, k)
	writeJSON(w, http.StatusOK, map[string]any{
		"total_questions": len(items),
		"answers":         items,
	})
}

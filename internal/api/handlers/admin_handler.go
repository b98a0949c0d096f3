package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/ragline/internal/config"
	"github.com/markdave123-py/ragline/internal/core/ratelimit"
	"github.com/markdave123-py/ragline/internal/core/vectorstore"
)

type AdminHandler struct {
	store   vectorstore.Store
	limiter *ratelimit.Limiter
	cfg     *config.Config
	version string
	logger  *slog.Logger
}

func NewAdminHandler(store vectorstore.Store, limiter *ratelimit.Limiter, cfg *config.Config, version string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{store: store, limiter: limiter, cfg: cfg, version: version, logger: logger}
}

func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"version":     h.version,
		"environment": h.cfg.Environment,
		"timestamp":   float64(time.Now().UnixMilli()) / 1000,
	})
}

// Stats reports the default collection's stats, the collection listing and
// backend health.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body := map[string]any{
		"timestamp": float64(time.Now().UnixMilli()) / 1000,
		"health":    h.store.Health(ctx),
	}

	if names, err := h.store.Collections(ctx); err == nil {
		body["collections"] = names
	} else {
		h.logger.Warn("listing collections failed", "error", err)
	}

	if stats, err := h.store.Stats(ctx, h.cfg.VectorStoreCollection); err == nil {
		body["collection_stats"] = map[string]any{
			"collection_name": h.cfg.VectorStoreCollection,
			"points":          stats.Points,
			"size_bytes":      stats.SizeBytes,
			"dimension":       stats.Dimension,
			"status":          stats.Status,
		}
	} else {
		body["collection_stats"] = map[string]any{"error": err.Error()}
	}

	writeJSON(w, http.StatusOK, body)
}

func (h *AdminHandler) RateLimitStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"rate_limiting": h.limiter.Stats(),
		"timestamp":     float64(time.Now().UnixMilli()) / 1000,
	})
}

// DeleteCollection is idempotent: deleting a collection that never existed
// still answers 200.
func (h *AdminHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.store.Delete(r.Context(), name); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "collection '" + name + "' deleted",
	})
}

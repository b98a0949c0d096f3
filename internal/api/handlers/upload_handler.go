package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/markdave123-py/ragline/internal/config"
	"github.com/markdave123-py/ragline/internal/core/chunker"
	"github.com/markdave123-py/ragline/internal/core/pipeline"
	"github.com/markdave123-py/ragline/internal/core/progress"
	"github.com/markdave123-py/ragline/internal/core/qa"
	"github.com/markdave123-py/ragline/internal/models"
)

// closeUnknownUpload is the WebSocket close code for an unknown or evicted
// upload id.
const closeUnknownUpload = 4404

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type UploadHandler struct {
	pipeline  *pipeline.Pipeline
	qaService *qa.Service
	tracker   *progress.Tracker
	scheduler Scheduler
	cfg       *config.Config
	logger    *slog.Logger
}

func NewUploadHandler(pipe *pipeline.Pipeline, qaService *qa.Service, tracker *progress.Tracker, scheduler Scheduler, cfg *config.Config, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		pipeline:  pipe,
		qaService: qaService,
		tracker:   tracker,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logger,
	}
}

type uploadRequest struct {
	CollectionName   string            `json:"collection_name"`
	Documents        []models.Document `json:"documents"`
	ForceRecreate    bool              `json:"force_recreate"`
	EnableMetadata   *bool             `json:"enable_metadata"`
	ChunkingStrategy string            `json:"chunking_strategy"`
}

func (h *UploadHandler) parseUpload(r *http.Request) (*uploadRequest, error) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if req.CollectionName == "" {
		req.CollectionName = h.cfg.VectorStoreCollection
	}
	if len(req.Documents) == 0 {
		return nil, fmt.Errorf("documents must not be empty")
	}
	for i, doc := range req.Documents {
		if doc.Content == "" && doc.StorageURL == "" {
			return nil, fmt.Errorf("document %d has neither content nor storage_url", i)
		}
	}
	switch req.ChunkingStrategy {
	case "", chunker.StrategyRecursive, chunker.StrategySemantic, chunker.StrategyMarkdown, chunker.StrategyHTML:
	default:
		return nil, fmt.Errorf("unknown chunking_strategy: %s", req.ChunkingStrategy)
	}
	if req.ChunkingStrategy == "" {
		req.ChunkingStrategy = h.cfg.DefaultStrategy
	}
	return &req, nil
}

func (h *UploadHandler) enableMetadata(req *uploadRequest) bool {
	if req.EnableMetadata != nil {
		return *req.EnableMetadata
	}
	return h.cfg.EnableMetadataDefault
}

// Upload accepts a document batch, answers immediately with an upload id and
// runs the pipeline on the background executor. Client disconnects do not
// cancel the work.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	uploadID := uuid.NewString()
	if err := h.tracker.Create(uploadID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pipelineReq := pipeline.Request{
		Documents:      req.Documents,
		Collection:     req.CollectionName,
		Strategy:       req.ChunkingStrategy,
		EnableMetadata: h.enableMetadata(req),
		ForceRecreate:  req.ForceRecreate,
		UploadID:       uploadID,
	}
	if err := h.scheduler.Schedule(func(ctx context.Context) {
		if _, err := h.pipeline.Run(ctx, pipelineReq); err != nil {
			h.logger.Error("background ingestion failed", "upload_id", uploadID, "error", err)
		}
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	writeJSON(w, http.StatusOK, models.UploadAck{
		UploadID:  uploadID,
		Status:    string(progress.StatusReceived),
		Message:   fmt.Sprintf("received %d documents for collection %s", len(req.Documents), req.CollectionName),
		Timestamp: time.Now(),
	})
}

// Initialize runs ingestion synchronously and binds the QA service to the
// resulting collection. May take minutes; no streaming.
func (h *UploadHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.qaService.InitializeFromDocuments(r.Context(), req.Documents,
		req.CollectionName, req.ChunkingStrategy, h.enableMetadata(req), req.ForceRecreate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "initialized",
		"total_documents":    result.TotalDocuments,
		"total_chunks":       result.TotalChunks,
		"total_vectors":      result.TotalVectors,
		"collection_name":    result.CollectionName,
		"processing_time_ms": result.ProcessingTimeMs,
		"estimated_cost_usd": result.EstimatedCostUSD,
	})
}

// Progress is the polling fallback for clients without WebSocket support.
func (h *UploadHandler) Progress(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "upload_id")
	event, err := h.tracker.Get(uploadID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// wsFrame is the wire shape pushed to WebSocket subscribers.
type wsFrame struct {
	UploadID        string    `json:"upload_id"`
	Status          string    `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	CurrentChunk    int       `json:"current_chunk"`
	TotalChunks     int       `json:"total_chunks"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
}

func frameFrom(ev progress.Event) wsFrame {
	return wsFrame{
		UploadID:        ev.UploadID,
		Status:          string(ev.Status),
		ProgressPercent: ev.ProgressPercent,
		CurrentChunk:    ev.CurrentChunk,
		TotalChunks:     ev.TotalChunks,
		Message:         ev.Message,
		Timestamp:       ev.Timestamp,
	}
}

// ServeWS streams progress frames for one upload. Unknown ids close with
// 4404; the terminal frame is followed by a normal close. A client "close"
// text frame requests graceful termination; other client frames are ignored.
func (h *UploadHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "upload_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel, err := h.tracker.Subscribe(uploadID)
	if err != nil {
		var te *progress.TrackerError
		reason := "unknown upload"
		if errors.As(err, &te) && te.Kind == progress.KindEvicted {
			reason = "upload evicted"
		}
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeUnknownUpload, reason), deadline)
		return
	}
	defer cancel()

	// Reader: a "close" text frame ends the subscription; everything else,
	// including client disconnect, just stops the reader.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage && string(payload) == "close" {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(frameFrom(ev)); err != nil {
				return
			}
			if ev.Status.Terminal() {
				deadline := time.Now().Add(time.Second)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
		}
	}
}

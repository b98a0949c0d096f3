package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	qdrantMaxRetries       = 3
	breakerFailureLimit    = 5
	breakerRecoveryTimeout = 60 * time.Second
)

// qdrantBackoffBase is the first retry delay; tests shrink it.
var qdrantBackoffBase = time.Second

// Qdrant is a REST client to a Qdrant Cloud cluster. It speaks the collections
// and points APIs directly over HTTPS with the api-key header.
type Qdrant struct {
	url      string
	apiKey   string
	client   *http.Client
	breakers *breakerSet
	logger   *slog.Logger
}

type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewQdrant(cfg QdrantConfig) *Qdrant {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Qdrant{
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		breakers: newBreakerSet(breakerFailureLimit, breakerRecoveryTimeout),
		logger:   logger,
	}
}

var _ Store = (*Qdrant)(nil)

// doJSON performs one API call through the endpoint's breaker with retry on
// transient failures.
func (q *Qdrant) doJSON(ctx context.Context, endpoint, method, path string, body, out any) error {
	breaker := q.breakers.get(endpoint)

	var lastErr error
	for attempt := 0; attempt <= qdrantMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := qdrantBackoffBase << (attempt - 1)
			q.logger.Warn("retrying vector store call",
				"endpoint", endpoint, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := breaker.allow(); err != nil {
			return err
		}

		err := q.once(ctx, method, path, body, out)
		if err == nil {
			breaker.success()
			return nil
		}
		lastErr = err

		var se *StoreError
		if errors.As(err, &se) && se.Kind != KindUnavailable {
			// Definite answers (404, 409, 4xx) are not transient.
			breaker.success()
			return err
		}
		breaker.failure()
	}

	return &StoreError{Kind: KindUnavailable, Err: fmt.Errorf("%s failed after %d retries: %w", endpoint, qdrantMaxRetries, lastErr)}
}

func (q *Qdrant) once(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &StoreError{Kind: KindOther, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.url+path, reader)
	if err != nil {
		return &StoreError{Kind: KindOther, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		// Transport errors and timeouts are transient.
		return &StoreError{Kind: KindUnavailable, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &StoreError{Kind: KindNotFound, Err: fmt.Errorf("%s %s: %s", method, path, resp.Status)}
	case resp.StatusCode == http.StatusConflict:
		return &StoreError{Kind: KindConflict, Err: fmt.Errorf("%s %s: %s", method, path, resp.Status)}
	case resp.StatusCode >= 500:
		payload, _ := io.ReadAll(resp.Body)
		return &StoreError{Kind: KindUnavailable, Err: fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, payload)}
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(resp.Body)
		return &StoreError{Kind: KindOther, Err: fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, payload)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &StoreError{Kind: KindOther, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

type collectionInfo struct {
	Result struct {
		Status      string `json:"status"`
		PointsCount int64  `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (q *Qdrant) getCollection(ctx context.Context, name string) (*collectionInfo, error) {
	var info collectionInfo
	if err := q.doJSON(ctx, "get_collection", http.MethodGet, "/collections/"+name, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (q *Qdrant) createCollection(ctx context.Context, name string, dimension int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return q.doJSON(ctx, "create_collection", http.MethodPut, "/collections/"+name, body, nil)
}

func (q *Qdrant) EnsureCollection(ctx context.Context, name string, dimension int, forceRecreate bool) error {
	if dimension <= 0 {
		return &StoreError{Kind: KindBadDimension, Err: fmt.Errorf("invalid dimension %d", dimension)}
	}

	info, err := q.getCollection(ctx, name)
	if err == nil {
		existing := info.Result.Config.Params.Vectors.Size
		if !forceRecreate {
			if existing == dimension {
				return nil
			}
			return &StoreError{Kind: KindBadDimension,
				Err: fmt.Errorf("collection %s has dimension %d, want %d", name, existing, dimension)}
		}
		if err := q.Delete(ctx, name); err != nil {
			q.logger.Warn("delete before recreate failed", "collection", name, "error", err)
		}
		return q.createCollection(ctx, name, dimension)
	}

	var se *StoreError
	if errors.As(err, &se) && se.Kind == KindNotFound {
		return q.createCollection(ctx, name, dimension)
	}

	// Plausibly exists but unhealthy: one forced recreate, then give up.
	q.logger.Warn("collection probe failed, attempting forced recreate", "collection", name, "error", err)
	if delErr := q.Delete(ctx, name); delErr != nil {
		q.logger.Warn("forced delete failed", "collection", name, "error", delErr)
	}
	if createErr := q.createCollection(ctx, name, dimension); createErr != nil {
		return err
	}
	return nil
}

// qdrantBatchSize caps points per upsert request.
const qdrantBatchSize = 100

func (q *Qdrant) Upsert(ctx context.Context, collection string, points []Point) error {
	for start := 0; start < len(points); start += qdrantBatchSize {
		end := start + qdrantBatchSize
		if end > len(points) {
			end = len(points)
		}
		batch := make([]map[string]any, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, map[string]any{
				"id":      p.ID,
				"vector":  p.Vector,
				"payload": p.Payload,
			})
		}
		body := map[string]any{"points": batch}
		if err := q.doJSON(ctx, "upsert", http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	if opts.K <= 0 {
		opts.K = 5
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        opts.K,
		"with_payload": true,
	}
	if opts.WithVectors {
		body["with_vector"] = true
	}
	if len(opts.Filter) > 0 {
		must := make([]map[string]any, 0, len(opts.Filter))
		for k, v := range opts.Filter {
			must = append(must, map[string]any{"key": k, "match": map[string]any{"value": v}})
		}
		body["filter"] = map[string]any{"must": must}
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
			Vector  []float32      `json:"vector"`
		} `json:"result"`
	}
	if err := q.doJSON(ctx, "search", http.MethodPost, "/collections/"+collection+"/points/search", body, &resp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, SearchResult{Payload: r.Payload, Score: r.Score, Vector: r.Vector})
	}
	return results, nil
}

func (q *Qdrant) Delete(ctx context.Context, collection string) error {
	err := q.doJSON(ctx, "delete_collection", http.MethodDelete, "/collections/"+collection, nil, nil)
	var se *StoreError
	if errors.As(err, &se) && se.Kind == KindNotFound {
		return nil // already gone
	}
	return err
}

func (q *Qdrant) Stats(ctx context.Context, collection string) (CollectionStats, error) {
	info, err := q.getCollection(ctx, collection)
	if err != nil {
		return CollectionStats{}, err
	}
	dim := info.Result.Config.Params.Vectors.Size
	return CollectionStats{
		Points: info.Result.PointsCount,
		// Qdrant does not expose on-disk size; estimate from float32 vectors.
		SizeBytes: info.Result.PointsCount * int64(dim) * 4,
		Dimension: dim,
		Status:    info.Result.Status,
	}, nil
}

func (q *Qdrant) Collections(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := q.doJSON(ctx, "list_collections", http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

func (q *Qdrant) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	_, err := q.Collections(ctx)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return HealthStatus{OK: false, LatencyMs: latency, Detail: err.Error()}
	}
	return HealthStatus{OK: true, LatencyMs: latency}
}

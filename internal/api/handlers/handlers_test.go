package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/ragline/internal/config"
	"github.com/markdave123-py/ragline/internal/core/chunker"
	"github.com/markdave123-py/ragline/internal/core/pipeline"
	"github.com/markdave123-py/ragline/internal/core/progress"
	"github.com/markdave123-py/ragline/internal/core/qa"
	"github.com/markdave123-py/ragline/internal/core/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (fakeEmbedder) Dimension() int { return 2 }

type fakeChat struct{ answer string }

func (f fakeChat) Complete(context.Context, string, string, float32, int) (string, error) {
	return f.answer, nil
}
func (f fakeChat) Model() string { return "fake-model" }

type fakeStore struct {
	mu       sync.Mutex
	points   map[string][]vectorstore.Point
	statsErr error
	deleted  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{points: map[string][]vectorstore.Point{}}
}

func (f *fakeStore) EnsureCollection(_ context.Context, name string, _ int, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if force {
		f.points[name] = nil
	}
	if _, ok := f.points[name]; !ok {
		f.points[name] = nil
	}
	return nil
}

func (f *fakeStore) Upsert(_ context.Context, name string, points []vectorstore.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[name] = append(f.points[name], points...)
	return nil
}

func (f *fakeStore) Search(_ context.Context, name string, _ []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vectorstore.SearchResult
	for _, p := range f.points[name] {
		if len(out) == opts.K {
			break
		}
		out = append(out, vectorstore.SearchResult{Payload: p.Payload, Score: 0.9, Vector: p.Vector})
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	delete(f.points, name)
	return nil
}

func (f *fakeStore) Stats(_ context.Context, name string) (vectorstore.CollectionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return vectorstore.CollectionStats{}, f.statsErr
	}
	pts, ok := f.points[name]
	if !ok {
		return vectorstore.CollectionStats{}, &vectorstore.StoreError{Kind: vectorstore.KindNotFound, Err: fmt.Errorf("no collection %s", name)}
	}
	return vectorstore.CollectionStats{Points: int64(len(pts)), Dimension: 2}, nil
}

func (f *fakeStore) Collections(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.points {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeStore) Health(context.Context) vectorstore.HealthStatus {
	return vectorstore.HealthStatus{OK: true, LatencyMs: 0.1}
}

// inlineScheduler runs background work in a goroutine and lets tests wait
// for completion.
type inlineScheduler struct {
	wg       sync.WaitGroup
	draining bool
}

func (s *inlineScheduler) Schedule(fn func(ctx context.Context)) error {
	if s.draining {
		return fmt.Errorf("shutting down")
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(context.Background())
	}()
	return nil
}

type testEnv struct {
	router    *chi.Mux
	store     *fakeStore
	tracker   *progress.Tracker
	scheduler *inlineScheduler
	cfg       *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Environment:           "development",
		VectorStoreCollection: "rag_documents",
		DefaultStrategy:       "recursive",
		EnableMetadataDefault: false,
		ChunkSize:             100,
		ChunkOverlap:          10,
	}
	store := newFakeStore()
	tracker := progress.NewTracker(time.Minute, nil)
	pipe := pipeline.New(fakeEmbedder{}, nil, store, tracker, nil, nil, pipeline.Config{
		ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap, BatchSize: 10,
		CountTokens: chunker.ApproxTokens,
	}, nil)
	qaService := qa.NewService(store, fakeEmbedder{}, fakeChat{answer: "the answer"}, pipe, cfg.VectorStoreCollection, nil)
	scheduler := &inlineScheduler{}

	uploadHandler := NewUploadHandler(pipe, qaService, tracker, scheduler, cfg, testLogger())
	qaHandler := NewQAHandler(qaService, testLogger())
	adminHandler := NewAdminHandler(store, newTestLimiter(), cfg, "1.0.0", testLogger())

	r := chi.NewRouter()
	r.Get("/health", adminHandler.Health)
	r.Get("/stats", adminHandler.Stats)
	r.Get("/rate-limit-stats", adminHandler.RateLimitStats)
	r.Delete("/collection/{name}", adminHandler.DeleteCollection)
	r.Post("/upload", uploadHandler.Upload)
	r.Post("/initialize", uploadHandler.Initialize)
	r.Get("/progress/{upload_id}", uploadHandler.Progress)
	r.Get("/ws/{upload_id}", uploadHandler.ServeWS)
	r.Post("/question", qaHandler.Question)
	r.Post("/search", qaHandler.Search)
	r.Post("/batch-questions", qaHandler.BatchQuestions)

	return &testEnv{router: r, store: store, tracker: tracker, scheduler: scheduler, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestUploadReturnsImmediately(t *testing.T) {
	env := newTestEnv(t)

	start := time.Now()
	rec := env.do(t, http.MethodPost, "/upload", map[string]any{
		"collection_name": "docs",
		"documents":       []map[string]any{{"content": "hello world", "source": "a.txt"}},
	})
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, elapsed, 100*time.Millisecond)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "received", body["status"])
	assert.NotEmpty(t, body["upload_id"])

	// The background run finishes and lands in completed.
	env.scheduler.wg.Wait()
	ev, err := env.tracker.Get(body["upload_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, ev.Status)
	assert.NotEmpty(t, env.store.points["docs"])
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/upload", map[string]any{"collection_name": "docs", "documents": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/upload", map[string]any{
		"collection_name": "docs",
		"documents":       []map[string]any{{"source": "a.txt"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/upload", map[string]any{
		"collection_name":   "docs",
		"documents":         []map[string]any{{"content": "x", "source": "a.txt"}},
		"chunking_strategy": "sliding",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectedWhileDraining(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.draining = true

	rec := env.do(t, http.MethodPost, "/upload", map[string]any{
		"documents": []map[string]any{{"content": "x", "source": "a.txt"}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInitializeSynchronous(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/initialize", map[string]any{
		"collection_name": "docs",
		"documents":       []map[string]any{{"content": "alpha beta gamma", "source": "a.txt"}},
		"force_recreate":  true,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "initialized", body["status"])
	assert.Equal(t, float64(1), body["total_documents"])
	assert.Equal(t, body["total_chunks"], body["total_vectors"])
}

func TestProgressEndpoint(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.tracker.Create("known-id"))

	rec := env.do(t, http.MethodGet, "/progress/known-id", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "received", body["status"])

	rec = env.do(t, http.MethodGet, "/progress/unknown-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func dialWS(t *testing.T, srv *httptest.Server, uploadID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + uploadID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWebSocketUnknownIDCloses4404(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "00000000-0000-0000-0000-000000000000")
	defer conn.Close()

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, closeUnknownUpload, closeErr.Code)
}

func TestWebSocketProgression(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	require.NoError(t, env.tracker.Create("u1"))
	conn := dialWS(t, srv, "u1")
	defer conn.Close()

	readFrame := func() map[string]any {
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		return frame
	}

	assert.Equal(t, "received", readFrame()["status"])

	total := 2
	require.NoError(t, env.tracker.Update("u1", progress.Update{Status: progress.StatusChunking, TotalChunks: &total}))
	assert.Equal(t, "chunking", readFrame()["status"])

	require.NoError(t, env.tracker.Update("u1", progress.Update{Status: progress.StatusIndexing}))
	assert.Equal(t, "indexing", readFrame()["status"])

	require.NoError(t, env.tracker.Finish("u1", progress.StatusCompleted, nil, ""))
	final := readFrame()
	assert.Equal(t, "completed", final["status"])
	assert.Equal(t, float64(100), final["progress_percent"])
	assert.Equal(t, final["total_chunks"], final["current_chunk"])

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestQuestionColdStartAgainstExistingCollection(t *testing.T) {
	env := newTestEnv(t)
	// Seed the default collection so auto-init succeeds.
	require.NoError(t, env.store.EnsureCollection(context.Background(), "rag_documents", 2, false))
	require.NoError(t, env.store.Upsert(context.Background(), "rag_documents", []vectorstore.Point{
		{ID: "p1", Vector: []float32{1, 0}, Payload: map[string]any{"text": "X is a thing", "source": "a.txt"}},
	}))

	rec := env.do(t, http.MethodPost, "/question", map[string]any{
		"question":   "What is X?",
		"query_type": "general",
		"k":          3,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "the answer", body["answer"])
	used := body["documents_used"].(float64)
	assert.GreaterOrEqual(t, used, float64(1))
	assert.LessOrEqual(t, used, float64(3))
}

func TestQuestionColdStartWithoutCollectionIs503(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/question", map[string]any{"question": "What is X?"})

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Contains(t, body["suggestion"], "/initialize")
}

func TestQuestionValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/question", map[string]any{"question": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/question", map[string]any{"question": "q", "k": 50})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchQuestions(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.EnsureCollection(context.Background(), "rag_documents", 2, false))

	rec := env.do(t, http.MethodPost, "/batch-questions", map[string]any{
		"questions": []string{"q1", "q2"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, float64(2), body["total_questions"])
	assert.Len(t, body["answers"], 2)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "development", body["environment"])
	assert.NotZero(t, body["timestamp"])
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.EnsureCollection(context.Background(), "rag_documents", 2, false))

	rec := env.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Contains(t, body, "collection_stats")
	assert.Contains(t, body, "health")
	assert.Contains(t, body, "collections")
}

func TestRateLimitStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/rate-limit-stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RateLimiting struct {
			Global struct {
				MaxRPM int `json:"max_rpm"`
			} `json:"global"`
			Services map[string]any `json:"services"`
		} `json:"rate_limiting"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 10, body.RateLimiting.Global.MaxRPM)
}

func TestDeleteCollectionIdempotent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/collection/ghost", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/collection/ghost", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.EnsureCollection(context.Background(), "rag_documents", 2, false))
	require.NoError(t, env.store.Upsert(context.Background(), "rag_documents", []vectorstore.Point{
		{ID: "p1", Vector: []float32{1, 0}, Payload: map[string]any{"text": "alpha text", "source": "a.txt"}},
	}))

	rec := env.do(t, http.MethodPost, "/search", map[string]any{"query": "alpha"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), body["count"])
}

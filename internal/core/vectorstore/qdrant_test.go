package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant is a minimal in-memory Qdrant API for client tests.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]int            // name -> dimension
	points      map[string]map[string]any // collection -> id -> point
	creates     int
	failures    int // remaining forced 500 responses
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{
		collections: make(map[string]int),
		points:      make(map[string]map[string]any),
	}
}

func (f *fakeQdrant) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /collections", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var names []map[string]string
		for name := range f.collections {
			names = append(names, map[string]string{"name": name})
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"collections": names}})
	})

	mux.HandleFunc("GET /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := r.PathValue("name")
		dim, ok := f.collections[name]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
			"status":       "green",
			"points_count": len(f.points[name]),
			"config": map[string]any{"params": map[string]any{
				"vectors": map[string]any{"size": dim, "distance": "Cosine"},
			}},
		}})
	})

	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		name := r.PathValue("name")
		f.collections[name] = body.Vectors.Size
		f.points[name] = make(map[string]any)
		f.creates++
		json.NewEncoder(w).Encode(map[string]any{"result": true})
	})

	mux.HandleFunc("DELETE /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := r.PathValue("name")
		delete(f.collections, name)
		delete(f.points, name)
		json.NewEncoder(w).Encode(map[string]any{"result": true})
	})

	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := r.PathValue("name")
		if _, ok := f.collections[name]; !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var body struct {
			Points []map[string]any `json:"points"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			f.points[name][fmt.Sprint(p["id"])] = p
		}
		json.NewEncoder(w).Encode(map[string]any{"result": true})
	})

	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := r.PathValue("name")
		var results []map[string]any
		for _, p := range f.points[name] {
			point := p.(map[string]any)
			results = append(results, map[string]any{
				"score":   0.9,
				"payload": point["payload"],
				"vector":  point["vector"],
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"result": results})
	})

	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		if f.failures > 0 {
			f.failures--
			f.mu.Unlock()
			http.Error(w, "internal", http.StatusInternalServerError)
			return
		}
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	})
	return failing
}

func newTestClient(t *testing.T, fake *fakeQdrant) *Qdrant {
	t.Helper()
	old := qdrantBackoffBase
	qdrantBackoffBase = time.Millisecond
	t.Cleanup(func() { qdrantBackoffBase = old })

	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewQdrant(QdrantConfig{URL: srv.URL, APIKey: "test-key"})
}

func TestEnsureCollectionIdempotent(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestClient(t, fake)
	ctx := context.Background()

	require.NoError(t, q.EnsureCollection(ctx, "docs", 4, false))
	require.NoError(t, q.EnsureCollection(ctx, "docs", 4, false))
	assert.Equal(t, 1, fake.creates, "second ensure must not create again")
}

func TestEnsureCollectionDimensionMismatch(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestClient(t, fake)
	ctx := context.Background()

	require.NoError(t, q.EnsureCollection(ctx, "docs", 4, false))
	err := q.EnsureCollection(ctx, "docs", 8, false)

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindBadDimension, se.Kind)
}

func TestEnsureCollectionForceRecreate(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestClient(t, fake)
	ctx := context.Background()

	require.NoError(t, q.EnsureCollection(ctx, "docs", 4, false))
	require.NoError(t, q.Upsert(ctx, "docs", []Point{{ID: "11111111-1111-1111-1111-111111111111", Vector: []float32{1, 0, 0, 0}}}))

	require.NoError(t, q.EnsureCollection(ctx, "docs", 8, true))

	stats, err := q.Stats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Dimension)
	assert.Zero(t, stats.Points, "recreate drops existing points")
}

func TestUpsertIncreasesStats(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestClient(t, fake)
	ctx := context.Background()

	require.NoError(t, q.EnsureCollection(ctx, "docs", 2, false))
	points := []Point{
		{ID: "11111111-1111-1111-1111-111111111111", Vector: []float32{1, 0}, Payload: map[string]any{"text": "a"}},
		{ID: "22222222-2222-2222-2222-222222222222", Vector: []float32{0, 1}, Payload: map[string]any{"text": "b"}},
	}
	require.NoError(t, q.Upsert(ctx, "docs", points))

	stats, err := q.Stats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Points)

	// Re-upserting the same IDs is a no-op for the count.
	require.NoError(t, q.Upsert(ctx, "docs", points))
	stats, err = q.Stats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Points)
}

func TestSearchReturnsPayloads(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestClient(t, fake)
	ctx := context.Background()

	require.NoError(t, q.EnsureCollection(ctx, "docs", 2, false))
	require.NoError(t, q.Upsert(ctx, "docs", []Point{
		{ID: "11111111-1111-1111-1111-111111111111", Vector: []float32{1, 0}, Payload: map[string]any{"text": "hello"}},
	}))

	results, err := q.Search(ctx, "docs", []float32{1, 0}, SearchOptions{K: 3})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hello", results[0].Payload["text"])
	assert.Positive(t, results[0].Score)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	fake := newFakeQdrant()
	fake.failures = 2
	q := newTestClient(t, fake)

	require.NoError(t, q.EnsureCollection(context.Background(), "docs", 2, false))
}

func TestDeleteUnknownCollectionIsIdempotent(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestClient(t, fake)

	assert.NoError(t, q.Delete(context.Background(), "never-existed"))
}

func TestHealth(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestClient(t, fake)

	h := q.Health(context.Background())
	assert.True(t, h.OK)
	assert.GreaterOrEqual(t, h.LatencyMs, 0.0)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := newBreaker(5, time.Minute)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		require.NoError(t, b.allow())
		b.failure()
	}

	err := b.allow()
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindUnavailable, se.Kind)

	// After the recovery timeout a single probe is admitted.
	clock = clock.Add(61 * time.Second)
	require.NoError(t, b.allow())
	require.Error(t, b.allow(), "only one probe in half-open")

	b.success()
	assert.NoError(t, b.allow())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := newBreaker(2, time.Minute)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.failure()
	b.failure()
	require.Error(t, b.allow())

	clock = clock.Add(2 * time.Minute)
	require.NoError(t, b.allow())
	b.failure()
	require.Error(t, b.allow(), "failed probe reopens the circuit")
}

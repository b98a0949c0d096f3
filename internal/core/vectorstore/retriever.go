package vectorstore

import (
	"context"
	"fmt"
	"math"

	"github.com/markdave123-py/ragline/internal/core/llm"
)

// Strategy names accepted by NewRetriever.
const (
	StrategySimilarity = "similarity"
	StrategyMMR        = "mmr"
	StrategyFiltered   = "filtered"
	StrategyAdaptive   = "adaptive"
)

const (
	defaultK          = 5
	defaultMMRLambda  = 0.5
	defaultFetchKMult = 4
)

// Retriever is a stateless reference binding a collection to a retrieval
// strategy. It owns no resources; building one is cheap.
type Retriever struct {
	store      Store
	embedder   llm.Embedder
	collection string
	strategy   string
	k          int
	fetchK     int
	lambda     float64
	filter     map[string]any
}

// NewRetriever builds a retriever for collection with the given strategy.
// k <= 0 falls back to the default. The filter only applies to the filtered
// strategy and to mmr when combined by the adaptive mapping.
func NewRetriever(store Store, embedder llm.Embedder, collection, strategy string, k int, filter map[string]any) Retriever {
	if k <= 0 {
		k = defaultK
	}
	if strategy == "" {
		strategy = StrategySimilarity
	}
	return Retriever{
		store:      store,
		embedder:   embedder,
		collection: collection,
		strategy:   strategy,
		k:          k,
		fetchK:     k * defaultFetchKMult,
		lambda:     defaultMMRLambda,
		filter:     filter,
	}
}

// ForQueryType maps a query type onto the recommended retrieval setup:
// general -> similarity k=5, research -> mmr k=5, specific -> filtered (or
// similarity without a filter) k=3, complex -> mmr with filter k=5. Unknown
// types behave like general.
func ForQueryType(store Store, embedder llm.Embedder, collection, queryType string, k int, filter map[string]any) Retriever {
	switch queryType {
	case "research":
		if k <= 0 {
			k = defaultK
		}
		return NewRetriever(store, embedder, collection, StrategyMMR, k, nil)
	case "specific":
		if k <= 0 {
			k = 3
		}
		if len(filter) > 0 {
			return NewRetriever(store, embedder, collection, StrategyFiltered, k, filter)
		}
		return NewRetriever(store, embedder, collection, StrategySimilarity, k, nil)
	case "complex":
		if k <= 0 {
			k = defaultK
		}
		return NewRetriever(store, embedder, collection, StrategyMMR, k, filter)
	default:
		if k <= 0 {
			k = defaultK
		}
		return NewRetriever(store, embedder, collection, StrategySimilarity, k, nil)
	}
}

// Collection reports the collection this retriever is bound to.
func (r Retriever) Collection() string { return r.collection }

// Retrieve embeds the query and returns up to k scored results according to
// the retriever's strategy.
func (r Retriever) Retrieve(ctx context.Context, query string) ([]SearchResult, error) {
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.RetrieveVector(ctx, vec)
}

// RetrieveVector runs the strategy against an already-embedded query.
func (r Retriever) RetrieveVector(ctx context.Context, vec []float32) ([]SearchResult, error) {
	switch r.strategy {
	case StrategyMMR:
		candidates, err := r.store.Search(ctx, r.collection, vec, SearchOptions{
			K:           r.fetchK,
			Filter:      r.filter,
			WithVectors: true,
		})
		if err != nil {
			return nil, err
		}
		return mmrSelect(vec, candidates, r.k, r.lambda), nil
	case StrategyFiltered:
		return r.store.Search(ctx, r.collection, vec, SearchOptions{K: r.k, Filter: r.filter})
	default:
		return r.store.Search(ctx, r.collection, vec, SearchOptions{K: r.k})
	}
}

// mmrSelect greedily picks k candidates trading relevance to the query
// against similarity to already-selected results (lambda weights relevance).
func mmrSelect(query []float32, candidates []SearchResult, k int, lambda float64) []SearchResult {
	if len(candidates) <= k {
		return candidates
	}

	selected := make([]SearchResult, 0, k)
	remaining := append([]SearchResult(nil), candidates...)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			relevance := cosineSim(query, cand.Vector)
			redundancy := 0.0
			for _, s := range selected {
				if sim := cosineSim(cand.Vector, s.Vector); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*relevance - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func cosineSim(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Package retrieval finds the chunks most relevant to a question via
// cosine-distance nearest-neighbor search over a single document's
// embedded chunks, gated by a confidence threshold.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brunobiangulo/pageproof/llm"
	"github.com/brunobiangulo/pageproof/store"
)

// TopK is the default number of nearest chunks requested per query.
const TopK = 8

// ConfidenceGate is the maximum cosine distance a top result may have for
// retrieval to be considered confident enough to answer from.
const ConfidenceGate = 1.2

// SearchTrace records the breakdown of one retrieval call.
type SearchTrace struct {
	Requested int           `json:"requested"`
	Returned  int           `json:"returned"`
	TopScore  float64       `json:"top_distance"`
	Confident bool          `json:"confident"`
	ElapsedMs int64         `json:"elapsed_ms"`
}

// Engine performs vector retrieval over one document's chunks.
type Engine struct {
	store    *store.Store
	embedder llm.Provider
}

// New creates a retrieval engine.
func New(s *store.Store, embedder llm.Provider) *Engine {
	return &Engine{store: s, embedder: embedder}
}

// Search embeds the query and returns the top-k nearest chunks for docID,
// ordered by ascending distance (closest first) with ties broken by
// chunk_index. The returned trace's Confident flag reports whether the
// closest result is within ConfidenceGate.
func (e *Engine) Search(ctx context.Context, docID, query string, k int) ([]store.RetrievalResult, *SearchTrace, error) {
	if k <= 0 {
		k = TopK
	}

	start := time.Now()
	embeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, nil, fmt.Errorf("empty query embedding returned")
	}

	results, err := e.store.VectorSearch(ctx, docID, embeddings[0], k)
	if err != nil {
		return nil, nil, fmt.Errorf("vector search: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	trace := &SearchTrace{
		Requested: k,
		Returned:  len(results),
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	if len(results) > 0 {
		trace.TopScore = results[0].Distance
		trace.Confident = results[0].Distance <= ConfidenceGate
	}

	slog.Debug("retrieval: search complete",
		"document_id", docID, "requested", k, "returned", len(results),
		"top_distance", trace.TopScore, "confident", trace.Confident)

	return results, trace, nil
}

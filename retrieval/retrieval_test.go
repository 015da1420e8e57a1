package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/pageproof/llm"
	"github.com/brunobiangulo/pageproof/store"
)

type fakeEmbedder struct {
	vector []float32
}

func (f *fakeEmbedder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func seedDocWithChunks(t *testing.T, st *store.Store, docID string, vectors [][]float32) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.UpsertDocument(ctx, store.Document{ID: docID, Path: docID, Filename: docID, ContentHash: "h", Status: store.StatusReady}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	pageID, err := st.InsertPage(ctx, store.Page{DocumentID: docID, PageNumber: 1, Width: 1, Height: 1, Source: "native"})
	if err != nil {
		t.Fatalf("InsertPage: %v", err)
	}
	spanIDs, err := st.InsertSpans(ctx, pageID, []store.Span{{SpanIndex: 0, Text: "x", X1: 0, Y1: 0, X2: 1, Y2: 1}})
	if err != nil {
		t.Fatalf("InsertSpans: %v", err)
	}

	chunks := make([]store.Chunk, len(vectors))
	for i := range vectors {
		chunks[i] = store.Chunk{
			DocumentID: docID, ChunkIndex: i, Content: "chunk", ContentHash: "h",
			PageStart: 1, PageEnd: 1, SpanStartID: spanIDs[0], SpanEndID: spanIDs[0],
		}
	}
	ids, err := st.InsertChunks(ctx, chunks)
	if err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
	for i, id := range ids {
		if err := st.InsertEmbedding(ctx, id, vectors[i]); err != nil {
			t.Fatalf("InsertEmbedding: %v", err)
		}
	}
}

func TestSearchReturnsClosestChunkFirst(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "t.db"), 2)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	seedDocWithChunks(t, st, "doc-1", [][]float32{{1, 0}, {0, 1}})

	eng := New(st, &fakeEmbedder{vector: []float32{1, 0}})
	results, trace, err := eng.Search(context.Background(), "doc-1", "query", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ChunkIndex != 0 {
		t.Errorf("closest chunk index = %d, want 0", results[0].ChunkIndex)
	}
	if !trace.Confident {
		t.Errorf("expected confident retrieval for an exact vector match, trace=%+v", trace)
	}
}

func TestSearchReportsLowConfidence(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "t.db"), 2)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	// Orthogonal vectors have cosine distance 1.0; use near-opposite vectors
	// to push the closest match's distance above the confidence gate.
	seedDocWithChunks(t, st, "doc-1", [][]float32{{-1, -0.01}})

	eng := New(st, &fakeEmbedder{vector: []float32{1, 0}})
	_, trace, err := eng.Search(context.Background(), "doc-1", "query", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if trace.Confident {
		t.Errorf("expected low-confidence retrieval for a near-opposite vector, trace=%+v", trace)
	}
}

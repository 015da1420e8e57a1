package embed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/pageproof/llm"
	"github.com/brunobiangulo/pageproof/store"
)

type fakeProvider struct {
	dim     int
	calls   int
	failAll bool
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, nil
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failAll {
		return nil, context.DeadlineExceeded
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), 8)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedChunks(t *testing.T, st *store.Store, docID string, n int) []store.Chunk {
	t.Helper()
	ctx := context.Background()
	if _, err := st.UpsertDocument(ctx, store.Document{ID: docID, Path: docID, Filename: docID, ContentHash: "h", Status: store.StatusProcessing}); err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	pageID, err := st.InsertPage(ctx, store.Page{DocumentID: docID, PageNumber: 1, Width: 612, Height: 792, Source: "native"})
	if err != nil {
		t.Fatalf("inserting page: %v", err)
	}
	spanIDs, err := st.InsertSpans(ctx, pageID, []store.Span{{SpanIndex: 0, Text: "hello", X1: 0, Y1: 0, X2: 1, Y2: 1}})
	if err != nil {
		t.Fatalf("inserting spans: %v", err)
	}

	chunks := make([]store.Chunk, n)
	for i := 0; i < n; i++ {
		chunks[i] = store.Chunk{
			DocumentID: docID, ChunkIndex: i, Content: "chunk text",
			ContentHash: "hash", PageStart: 1, PageEnd: 1,
			SpanStartID: spanIDs[0], SpanEndID: spanIDs[0],
		}
	}
	ids, err := st.InsertChunks(ctx, chunks)
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}
	for i := range chunks {
		chunks[i].ID = ids[i]
	}
	return chunks
}

func TestBackfillEmbedsAllPendingChunks(t *testing.T) {
	st := newTestStore(t)
	seedChunks(t, st, "doc-1", 3)

	provider := &fakeProvider{dim: 8}
	cache := New(provider, st)

	n, err := cache.Backfill(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if n != 3 {
		t.Errorf("embedded %d chunks, want 3", n)
	}

	pending, err := st.ChunksMissingEmbeddings(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ChunksMissingEmbeddings: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d chunks still missing embeddings", len(pending))
	}
}

func TestBackfillIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	seedChunks(t, st, "doc-1", 2)

	provider := &fakeProvider{dim: 8}
	cache := New(provider, st)
	ctx := context.Background()

	if _, err := cache.Backfill(ctx, "doc-1"); err != nil {
		t.Fatalf("first Backfill: %v", err)
	}
	firstCalls := provider.calls

	n, err := cache.Backfill(ctx, "doc-1")
	if err != nil {
		t.Fatalf("second Backfill: %v", err)
	}
	if n != 0 {
		t.Errorf("second backfill embedded %d chunks, want 0", n)
	}
	if provider.calls != firstCalls {
		t.Errorf("second backfill invoked the provider again")
	}
}

func TestBackfillBatchesAtBatchSize(t *testing.T) {
	st := newTestStore(t)
	seedChunks(t, st, "doc-1", BatchSize+5)

	provider := &fakeProvider{dim: 4}
	cache := New(provider, st)

	n, err := cache.Backfill(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if n != BatchSize+5 {
		t.Errorf("embedded %d chunks, want %d", n, BatchSize+5)
	}
	if provider.calls != 2 {
		t.Errorf("provider called %d times, want 2 batches", provider.calls)
	}
}

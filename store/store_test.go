package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestUpsertDocumentAssignsAndReusesID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id1, err := st.UpsertDocument(ctx, Document{Path: "a.pdf", Filename: "a.pdf", ContentHash: "h1", Status: StatusPending})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected a non-empty document ID")
	}

	id2, err := st.UpsertDocument(ctx, Document{Path: "a.pdf", Filename: "a.pdf", ContentHash: "h2", Status: StatusReady})
	if err != nil {
		t.Fatalf("UpsertDocument (re-ingest): %v", err)
	}
	if id2 != id1 {
		t.Errorf("re-ingesting the same path changed the document ID: %s != %s", id2, id1)
	}

	doc, err := st.GetDocument(ctx, id1)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.ContentHash != "h2" || doc.Status != StatusReady {
		t.Errorf("document not updated: %+v", doc)
	}
}

func TestSpanAndChunkRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	docID, err := st.UpsertDocument(ctx, Document{Path: "b.pdf", Filename: "b.pdf", ContentHash: "h", Status: StatusProcessing})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	pageID, err := st.InsertPage(ctx, Page{DocumentID: docID, PageNumber: 1, Width: 612, Height: 792, Source: "native"})
	if err != nil {
		t.Fatalf("InsertPage: %v", err)
	}

	spans := []Span{
		{SpanIndex: 0, Text: "hello", X1: 0, Y1: 700, X2: 30, Y2: 710},
		{SpanIndex: 1, Text: "world", X1: 32, Y1: 700, X2: 60, Y2: 710},
	}
	spanIDs, err := st.InsertSpans(ctx, pageID, spans)
	if err != nil {
		t.Fatalf("InsertSpans: %v", err)
	}
	if len(spanIDs) != 2 {
		t.Fatalf("got %d span IDs, want 2", len(spanIDs))
	}

	got, err := st.GetSpansByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetSpansByDocument: %v", err)
	}
	if len(got) != 2 || got[0].Text != "hello" || got[1].Text != "world" {
		t.Errorf("spans out of order or missing: %+v", got)
	}

	chunkIDs, err := st.InsertChunks(ctx, []Chunk{{
		DocumentID: docID, ChunkIndex: 0, Content: "hello world",
		ContentHash: "ch", PageStart: 1, PageEnd: 1,
		SpanStartID: spanIDs[0], SpanEndID: spanIDs[1],
	}})
	if err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	chunks, err := st.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetChunksByDocument: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != chunkIDs[0] {
		t.Fatalf("got %+v", chunks)
	}

	pending, err := st.ChunksMissingEmbeddings(ctx, docID)
	if err != nil {
		t.Fatalf("ChunksMissingEmbeddings: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending chunks, want 1", len(pending))
	}

	vec := make([]float32, 4)
	vec[0] = 1
	if err := st.InsertEmbedding(ctx, chunkIDs[0], vec); err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}

	pending, err = st.ChunksMissingEmbeddings(ctx, docID)
	if err != nil {
		t.Fatalf("ChunksMissingEmbeddings (after insert): %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("chunk still reported as missing an embedding")
	}

	results, err := st.VectorSearch(ctx, docID, vec, 5)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != chunkIDs[0] {
		t.Fatalf("VectorSearch results = %+v", results)
	}
	if results[0].Distance > 1e-6 {
		t.Errorf("distance to identical vector = %f, want ~0", results[0].Distance)
	}
}

func TestDeleteDocumentDataCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	docID, err := st.UpsertDocument(ctx, Document{Path: "c.pdf", Filename: "c.pdf", ContentHash: "h", Status: StatusReady})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	pageID, err := st.InsertPage(ctx, Page{DocumentID: docID, PageNumber: 1, Width: 1, Height: 1, Source: "native"})
	if err != nil {
		t.Fatalf("InsertPage: %v", err)
	}
	spanIDs, err := st.InsertSpans(ctx, pageID, []Span{{SpanIndex: 0, Text: "x", X1: 0, Y1: 0, X2: 1, Y2: 1}})
	if err != nil {
		t.Fatalf("InsertSpans: %v", err)
	}
	if _, err := st.InsertChunks(ctx, []Chunk{{
		DocumentID: docID, ChunkIndex: 0, Content: "x", ContentHash: "h",
		PageStart: 1, PageEnd: 1, SpanStartID: spanIDs[0], SpanEndID: spanIDs[0],
	}}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	if err := st.DeleteDocumentData(ctx, docID); err != nil {
		t.Fatalf("DeleteDocumentData: %v", err)
	}

	chunks, err := st.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetChunksByDocument: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks survived DeleteDocumentData: %+v", chunks)
	}

	spans, err := st.GetSpansByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetSpansByDocument: %v", err)
	}
	if len(spans) != 0 {
		t.Errorf("spans survived DeleteDocumentData: %+v", spans)
	}

	// The document record itself must still exist.
	if _, err := st.GetDocument(ctx, docID); err != nil {
		t.Errorf("document deleted along with its data: %v", err)
	}
}

package pageproof

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/brunobiangulo/pageproof/answer"
	"github.com/brunobiangulo/pageproof/embed"
	"github.com/brunobiangulo/pageproof/llm"
	"github.com/brunobiangulo/pageproof/retrieval"
	"github.com/brunobiangulo/pageproof/store"
)

type fakeLLM struct {
	chatContent string
	vector      []float32
}

func (f *fakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: f.chatContent, Model: "fake"}, nil
}

func (f *fakeLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

// seedReadyDocument builds a minimal one-page, one-span, one-chunk ready
// document directly through the store, bypassing PDF extraction.
func seedReadyDocument(t *testing.T, s *store.Store, docID string) string {
	t.Helper()
	ctx := context.Background()
	id, err := s.UpsertDocument(ctx, store.Document{ID: docID, Path: docID, Filename: docID, ContentHash: "h", Status: store.StatusReady})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	pageID, err := s.InsertPage(ctx, store.Page{DocumentID: id, PageNumber: 1, Width: 600, Height: 800, Source: "native"})
	if err != nil {
		t.Fatalf("InsertPage: %v", err)
	}
	spanIDs, err := s.InsertSpans(ctx, pageID, []store.Span{
		{SpanIndex: 0, Text: "Signed", X1: 0, Y1: 100, X2: 40, Y2: 110},
		{SpanIndex: 1, Text: "by", X1: 42, Y1: 100, X2: 55, Y2: 110},
		{SpanIndex: 2, Text: "Alice", X1: 57, Y1: 100, X2: 95, Y2: 110},
	})
	if err != nil {
		t.Fatalf("InsertSpans: %v", err)
	}
	chunkIDs, err := s.InsertChunks(ctx, []store.Chunk{{
		DocumentID: id, ChunkIndex: 0, Content: "Signed by Alice", ContentHash: "h",
		PageStart: 1, PageEnd: 1, SpanStartID: spanIDs[0], SpanEndID: spanIDs[len(spanIDs)-1],
	}})
	if err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
	if err := s.InsertEmbedding(ctx, chunkIDs[0], []float32{1, 0}); err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}
	return id
}

func newTestEngine(t *testing.T, fake *fakeLLM) (*Engine, string) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), 2)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	docID := seedReadyDocument(t, s, "doc-1")

	e := &Engine{
		cfg:        DefaultConfig(),
		store:      s,
		chatLLM:    fake,
		embedLLM:   fake,
		chunkCache: embed.New(fake, s),
		retriever:  retrieval.New(s, fake),
		generator:  answer.New(fake, answer.Config{RequireLLMCitations: true}),
		locks:      make(map[string]*sync.Mutex),
	}
	e.cfg.Retrieval.MaxVectorDistance = 1.2
	return e, docID
}

func TestAskReturnsGroundedAnswer(t *testing.T) {
	fake := &fakeLLM{vector: []float32{1, 0}}
	e, docID := newTestEngine(t, fake)

	chunks, err := e.store.GetChunksByDocument(context.Background(), docID)
	if err != nil || len(chunks) == 0 {
		t.Fatalf("GetChunksByDocument: %v", err)
	}
	fake.chatContent = `{"answer": "Alice signed it.", "citations": [{"chunk_id": "` + chunks[0].ID + `"}]}`

	resp, err := e.Ask(context.Background(), docID, "Who signed the document?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Answer != "Alice signed it." {
		t.Errorf("answer = %q, want grounded answer", resp.Answer)
	}
	if len(resp.Evidence) == 0 {
		t.Errorf("expected at least one evidence item for a grounded answer")
	}
}

func TestAskInsufficientWhenRetrievalNotConfident(t *testing.T) {
	fake := &fakeLLM{vector: []float32{-1, 0}} // near-opposite of stored {1,0}
	e, docID := newTestEngine(t, fake)

	resp, err := e.Ask(context.Background(), docID, "Who signed the document?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Answer != insufficientEvidenceAnswer {
		t.Errorf("answer = %q, want the canned insufficient-evidence response", resp.Answer)
	}
	if len(resp.Evidence) != 0 {
		t.Errorf("expected no evidence for an insufficient-confidence retrieval")
	}
}

func TestAskRejectsNotReadyDocument(t *testing.T) {
	fake := &fakeLLM{vector: []float32{1, 0}}
	e, _ := newTestEngine(t, fake)

	ctx := context.Background()
	if _, err := e.store.UpsertDocument(ctx, store.Document{ID: "doc-2", Path: "doc-2", Filename: "doc-2", ContentHash: "h", Status: store.StatusProcessing}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	_, err := e.Ask(ctx, "doc-2", "anything")
	if err != ErrDocumentNotReady {
		t.Errorf("err = %v, want ErrDocumentNotReady", err)
	}
}

// Package pageproof ingests PDF documents and answers grounded questions
// about them, returning a prose answer alongside page-anchored evidence
// boxes, or a canned insufficient-evidence response when grounding is weak.
package pageproof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brunobiangulo/pageproof/answer"
	"github.com/brunobiangulo/pageproof/chunker"
	"github.com/brunobiangulo/pageproof/embed"
	"github.com/brunobiangulo/pageproof/evidence"
	"github.com/brunobiangulo/pageproof/llm"
	"github.com/brunobiangulo/pageproof/ocr"
	"github.com/brunobiangulo/pageproof/parser"
	"github.com/brunobiangulo/pageproof/retrieval"
	"github.com/brunobiangulo/pageproof/store"
	"github.com/google/uuid"
)

// insufficientEvidenceAnswer is the fixed, literal canned response text
// returned whenever any confidence gate fails.
const insufficientEvidenceAnswer = "I don't have enough grounded evidence in this document to answer that confidently."

// AskResponse is the result of one question answered against a ready
// document.
type AskResponse struct {
	Answer   string          `json:"answer"`
	Evidence []evidence.Item `json:"evidence"`
}

// Engine is the entry point for ingestion and question-answering.
type Engine struct {
	cfg      Config
	store    *store.Store
	chatLLM  llm.Provider
	embedLLM llm.Provider
	extractor *parser.Extractor
	chunkCache *embed.Cache
	retriever  *retrieval.Engine
	generator  *answer.Generator

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds an Engine from cfg, opening the store and constructing every
// provider and sub-component it wires together.
func New(cfg Config) (*Engine, error) {
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1536
	}
	cfg.Embedding.Dimensions = cfg.EmbeddingDim

	s, err := store.New(cfg.DBPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, wrap(KindInternalError, "opening store", err)
	}

	chatLLM, err := llm.NewProvider(cfg.Chat)
	if err != nil {
		s.Close()
		return nil, wrap(KindConfigurationError, "creating chat provider", err)
	}

	embedLLM, err := llm.NewProvider(cfg.Embedding)
	if err != nil {
		s.Close()
		return nil, wrap(KindConfigurationError, "creating embedding provider", err)
	}

	var ocrProvider parser.OCRProvider
	if cfg.OCR.Enabled {
		ocrProvider = ocr.NewTesseract("tesseract")
	}

	extractor := parser.NewExtractor(ocrProvider, parser.Config{
		OCREnabled:    cfg.OCR.Enabled,
		MinWords:      cfg.OCR.TriggerMinWords,
		MinAlnumRatio: cfg.OCR.TriggerMinAlnumRatio,
		OCRLanguage:   cfg.OCR.Language,
		OCRDPI:        cfg.OCR.DPI,
		OCRFullPage:   cfg.OCR.FullPage,
		OCRTessdata:   cfg.OCR.Tessdata,
		RasterScale:   2.0,
	})

	return &Engine{
		cfg:        cfg,
		store:      s,
		chatLLM:    chatLLM,
		embedLLM:   embedLLM,
		extractor:  extractor,
		chunkCache: embed.New(embedLLM, s),
		retriever:  retrieval.New(s, embedLLM),
		generator:  answer.New(chatLLM, answer.Config{RequireLLMCitations: cfg.RequireLLMCitations, Model: cfg.Chat.Model}),
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

func (e *Engine) Close() error { return e.store.Close() }

func (e *Engine) Store() *store.Store { return e.store }

// Document returns the document row for id, or ErrDocumentNotFound.
func (e *Engine) Document(ctx context.Context, id string) (*store.Document, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Page returns the pageNumber'th page of document id (1-indexed), or
// ErrDocumentNotFound if the document or page does not exist.
func (e *Engine) Page(ctx context.Context, id string, pageNumber int) (*store.Page, error) {
	page, err := e.store.GetPage(ctx, id, pageNumber)
	if err != nil {
		return nil, ErrDocumentNotFound
	}
	return page, nil
}

// docLock returns the advisory per-document mutex for docID, creating it on
// first use. It guarantees at-most-one ingestion worker per document.
func (e *Engine) docLock(docID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	m, ok := e.locks[docID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[docID] = m
	}
	return m
}

// Ingest parses path (which must be a PDF), persists its pages/spans, and
// rebuilds its chunks. Re-ingesting a path whose content hash is unchanged
// is a no-op that returns the existing document ID. If docID is empty, a
// fresh UUID is assigned; callers that already created a document row (for
// example, an HTTP handler that allocated the ID before streaming the
// upload to disk) pass it in directly.
func (e *Engine) Ingest(ctx context.Context, docID, path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", wrap(KindInvalidInput, "resolving path", err)
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return "", wrap(KindInternalError, "hashing file", err)
	}

	if existing, err := e.store.GetDocumentByPath(ctx, absPath); err == nil &&
		existing.ContentHash == hash && existing.Status == store.StatusReady {
		return existing.ID, nil
	}

	if docID == "" {
		docID = uuid.NewString()
	}

	filename := filepath.Base(absPath)
	docID, err = e.store.UpsertDocument(ctx, store.Document{
		ID:          docID,
		Path:        absPath,
		Filename:    filename,
		ContentHash: hash,
		Status:      store.StatusProcessing,
	})
	if err != nil {
		return "", wrap(KindInternalError, "upserting document", err)
	}

	lock := e.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.runIngest(ctx, docID, absPath); err != nil {
		e.store.UpdateDocumentStatus(ctx, docID, store.StatusFailed, err.Error())
		return "", err
	}

	return docID, nil
}

func (e *Engine) runIngest(ctx context.Context, docID, path string) error {
	slog.Info("ingest: extracting document", "doc_id", docID, "path", path)
	start := time.Now()

	doc, err := e.extractor.Extract(ctx, path)
	if err != nil {
		return wrap(KindInternalError, "extracting PDF", err)
	}

	if err := e.store.DeleteDocumentData(ctx, docID); err != nil {
		return wrap(KindInternalError, "clearing stale document data", err)
	}

	var allSpans []chunker.SpanRef
	for i, page := range doc.Pages {
		pageID, err := e.store.InsertPage(ctx, store.Page{
			DocumentID: docID,
			PageNumber: page.PageNumber,
			Width:      page.Width,
			Height:     page.Height,
			Source:     page.Source,
			Image:      page.Image,
		})
		if err != nil {
			return wrap(KindInternalError, fmt.Sprintf("inserting page %d", i+1), err)
		}

		spans := make([]store.Span, len(page.Words))
		for j, w := range page.Words {
			spans[j] = store.Span{SpanIndex: j, Text: w.Text, X1: w.X1, Y1: w.Y1, X2: w.X2, Y2: w.Y2}
		}
		ids, err := e.store.InsertSpans(ctx, pageID, spans)
		if err != nil {
			return wrap(KindInternalError, fmt.Sprintf("inserting spans for page %d", i+1), err)
		}
		for j, id := range ids {
			allSpans = append(allSpans, chunker.SpanRef{ID: id, Text: spans[j].Text, Page: page.PageNumber})
		}
	}

	built := chunker.Build(allSpans)
	chunks := make([]store.Chunk, len(built))
	for i, c := range built {
		chunks[i] = store.Chunk{
			DocumentID:  docID,
			ChunkIndex:  c.ChunkIndex,
			Content:     c.Text,
			ContentHash: c.ContentHash,
			PageStart:   c.PageStart,
			PageEnd:     c.PageEnd,
			SpanStartID: c.SpanStartID,
			SpanEndID:   c.SpanEndID,
		}
	}
	if _, err := e.store.InsertChunks(ctx, chunks); err != nil {
		return wrap(KindInternalError, "inserting chunks", err)
	}

	if err := e.store.UpdateDocumentPageCount(ctx, docID, len(doc.Pages)); err != nil {
		return wrap(KindInternalError, "updating page count", err)
	}
	if err := e.store.UpdateDocumentStatus(ctx, docID, store.StatusReady, ""); err != nil {
		return wrap(KindInternalError, "marking document ready", err)
	}

	slog.Info("ingest: document ready", "doc_id", docID,
		"pages", len(doc.Pages), "chunks", len(chunks),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// Ask answers question against docID, sequencing the embedding backfill,
// retrieval, answer generation, evidence ranking, and evidence validation
// gates. Any gate failure yields the canned insufficient-evidence response
// rather than an error; only infrastructure failures return an error.
func (e *Engine) Ask(ctx context.Context, docID, question string) (*AskResponse, error) {
	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, ErrDocumentNotFound
	}
	if doc.Status != store.StatusReady {
		return nil, ErrDocumentNotReady
	}

	if _, err := e.chunkCache.Backfill(ctx, docID); err != nil {
		return nil, wrap(KindProviderFailure, "embedding backfill", err)
	}

	results, trace, err := e.retriever.Search(ctx, docID, question, e.cfg.Retrieval.TopK)
	if err != nil {
		slog.Warn("ask: retrieval failed, returning insufficient evidence", "doc_id", docID, "error", err)
		return insufficientResponse(), nil
	}
	if len(results) == 0 || !trace.Confident {
		return insufficientResponse(), nil
	}
	if g := e.cfg.Retrieval.MaxVectorDistance; g > 0 && results[0].Distance > g {
		return insufficientResponse(), nil
	}
	if n := e.cfg.Retrieval.MaxContextChunks; n > 0 && len(results) > n {
		results = results[:n]
	}

	genResult, err := e.generator.Generate(ctx, question, results)
	if err != nil {
		return nil, wrap(KindProviderFailure, "generating answer", err)
	}
	if genResult.Insufficient || len(genResult.Citations) == 0 {
		return insufficientResponse(), nil
	}

	items, err := e.rankEvidence(ctx, docID, question, genResult)
	if err != nil {
		return nil, wrap(KindInternalError, "ranking evidence", err)
	}
	if len(items) < max(1, e.cfg.MinimumEvidenceItems) {
		return insufficientResponse(), nil
	}

	if !e.validateEvidence(ctx, docID, items) {
		return insufficientResponse(), nil
	}

	return &AskResponse{Answer: genResult.Answer, Evidence: items}, nil
}

func insufficientResponse() *AskResponse {
	return &AskResponse{Answer: insufficientEvidenceAnswer, Evidence: []evidence.Item{}}
}

// rankEvidence expands cited chunks with their immediate neighbors, fetches
// the spans each covers, and runs the evidence ranking pipeline.
func (e *Engine) rankEvidence(ctx context.Context, docID, question string, gen *answer.Result) ([]evidence.Item, error) {
	chunkIDs := expandCitedChunks(ctx, e.store, docID, gen.Citations)

	pagesSeen := make(map[int]*evidence.PageSpans)
	var pageOrder []int

	for _, cid := range chunkIDs {
		ch, err := e.store.GetChunk(ctx, cid)
		if err != nil {
			continue
		}
		spans, err := e.store.GetSpansByIDRange(ctx, ch.SpanStartID, ch.SpanEndID)
		if err != nil {
			return nil, err
		}
		for _, sp := range spans {
			page := pageForSpan(ctx, e.store, sp.PageID)
			if page == nil {
				continue
			}
			ps, ok := pagesSeen[page.PageNumber]
			if !ok {
				ps = &evidence.PageSpans{Page: page.PageNumber, Width: page.Width, Height: page.Height}
				pagesSeen[page.PageNumber] = ps
				pageOrder = append(pageOrder, page.PageNumber)
			}
			ps.Spans = append(ps.Spans, evidence.Span{ID: sp.ID, Text: sp.Text, X1: sp.X1, Y1: sp.Y1, X2: sp.X2, Y2: sp.Y2})
		}
	}

	var pages []evidence.PageSpans
	for _, p := range pageOrder {
		pages = append(pages, *pagesSeen[p])
	}

	return evidence.Rank(question, gen.Answer, pages, e.cfg.evidenceConfig()), nil
}

func (e *Engine) validateEvidence(ctx context.Context, docID string, items []evidence.Item) bool {
	byPage := make(map[int][]evidence.Span)
	for _, it := range items {
		if _, ok := byPage[it.Page]; ok {
			continue
		}
		page, err := e.store.GetPage(ctx, docID, it.Page)
		if err != nil {
			return false
		}
		spans, err := e.store.GetSpansByPage(ctx, page.ID)
		if err != nil {
			return false
		}
		out := make([]evidence.Span, len(spans))
		for i, sp := range spans {
			out[i] = evidence.Span{ID: sp.ID, Text: sp.Text, X1: sp.X1, Y1: sp.Y1, X2: sp.X2, Y2: sp.Y2}
		}
		byPage[it.Page] = out
	}
	return evidence.Validate(items, byPage)
}

// expandCitedChunks adds the chunk_index±1 neighbors of each cited chunk,
// preferring +1 before -1 for continuity, when they exist in the document.
func expandCitedChunks(ctx context.Context, s *store.Store, docID string, citedIDs []string) []string {
	seen := make(map[string]bool, len(citedIDs)*2)
	var out []string

	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	for _, id := range citedIDs {
		add(id)
		ch, err := s.GetChunk(ctx, id)
		if err != nil {
			continue
		}
		for _, delta := range []int{1, -1} {
			neighbor, err := chunkAtIndex(ctx, s, docID, ch.ChunkIndex+delta)
			if err == nil && neighbor != nil {
				add(neighbor.ID)
			}
		}
	}
	return out
}

func chunkAtIndex(ctx context.Context, s *store.Store, docID string, index int) (*store.Chunk, error) {
	chunks, err := s.GetChunksByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.ChunkIndex == index {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("no chunk at index %d", index)
}

func pageForSpan(ctx context.Context, s *store.Store, pageID int64) *store.Page {
	page, err := s.GetPageByID(ctx, pageID)
	if err != nil {
		return nil
	}
	return page
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

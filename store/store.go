package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document represents a row in the documents table.
type Document struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	Status      string `json:"status"`
	PageCount   int    `json:"page_count"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Document status values.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "error"
)

// Page represents a row in the pages table.
type Page struct {
	ID         int64  `json:"id"`
	DocumentID string `json:"document_id"`
	PageNumber int    `json:"page_number"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Source     string `json:"source"` // "native" or "ocr"
	Image      []byte `json:"-"`
}

// Span represents a row in the spans table: one extracted word and its box.
type Span struct {
	ID        int64   `json:"id"`
	PageID    int64   `json:"page_id"`
	SpanIndex int     `json:"span_index"`
	Text      string  `json:"text"`
	X1        float64 `json:"x1"`
	Y1        float64 `json:"y1"`
	X2        float64 `json:"x2"`
	Y2        float64 `json:"y2"`
}

// Chunk represents a row in the chunks table.
type Chunk struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	ChunkIndex  int    `json:"chunk_index"`
	Content     string `json:"content"`
	ContentHash string `json:"content_hash"`
	PageStart   int    `json:"page_start"`
	PageEnd     int    `json:"page_end"`
	SpanStartID int64  `json:"span_start_id"`
	SpanEndID   int64  `json:"span_end_id"`
}

// QueryLog represents a row in the query_log table.
type QueryLog struct {
	DocumentID           string  `json:"document_id"`
	Question             string  `json:"question"`
	Answer               string  `json:"answer"`
	Confidence           float64 `json:"confidence"`
	CitationCount        int     `json:"citation_count"`
	EvidenceCount        int     `json:"evidence_count"`
	InsufficientEvidence bool    `json:"insufficient_evidence"`
	PromptTokens         int     `json:"prompt_tokens"`
	CompletionTokens     int     `json:"completion_tokens"`
	TotalTokens          int     `json:"total_tokens"`
}

// RetrievalResult holds a chunk with its retrieval score.
type RetrievalResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	ChunkIndex int     `json:"chunk_index"`
	PageStart  int     `json:"page_start"`
	PageEnd    int     `json:"page_end"`
	Distance   float64 `json:"distance"`
}

// Store wraps the SQLite database for all pageproof persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initializes the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Document operations ---

// UpsertDocument inserts or updates a document record by path, returning
// its ID. On first insert the caller's doc.ID is used, or a fresh UUID when
// it is empty; re-ingesting the same path keeps the existing ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (string, error) {
	existing, err := s.GetDocumentByPath(ctx, doc.Path)
	if err == nil {
		doc.ID = existing.ID
	} else if err != sql.ErrNoRows {
		return "", err
	} else if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, path, filename, content_hash, status, page_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			filename = excluded.filename,
			content_hash = excluded.content_hash,
			status = excluded.status,
			page_count = excluded.page_count,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP
	`, doc.ID, doc.Path, doc.Filename, doc.ContentHash, doc.Status, doc.PageCount, doc.Error)
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

// GetDocumentByPath retrieves a document by its file path.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	doc := &Document{}
	var docErr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, filename, content_hash, status, page_count, error, created_at, updated_at
		FROM documents WHERE path = ?
	`, path).Scan(&doc.ID, &doc.Path, &doc.Filename, &doc.ContentHash,
		&doc.Status, &doc.PageCount, &docErr, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Error = docErr.String
	return doc, nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc := &Document{}
	var docErr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, filename, content_hash, status, page_count, error, created_at, updated_at
		FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.Path, &doc.Filename, &doc.ContentHash,
		&doc.Status, &doc.PageCount, &docErr, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Error = docErr.String
	return doc, nil
}

// ListDocuments returns all documents ordered by creation time.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, filename, content_hash, status, page_count, error, created_at, updated_at
		FROM documents ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var docErr sql.NullString
		if err := rows.Scan(&d.ID, &d.Path, &d.Filename, &d.ContentHash,
			&d.Status, &d.PageCount, &docErr, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Error = docErr.String
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus updates the status (and optionally error) fields.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, nullIfEmpty(errMsg), id)
	return err
}

// UpdateDocumentPageCount updates the page_count field.
func (s *Store) UpdateDocumentPageCount(ctx context.Context, id string, pageCount int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET page_count = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		pageCount, id)
	return err
}

// DeleteDocumentData removes all pages, spans, chunks, and embeddings for a
// document but keeps the document record itself, in cascade order:
// embeddings and chunks first, then spans, then pages.
func (s *Store) DeleteDocumentData(ctx context.Context, docID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (
				SELECT id FROM chunks WHERE document_id = ?
			)`, docID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM chunks WHERE document_id = ?", docID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM spans WHERE page_id IN (
				SELECT id FROM pages WHERE document_id = ?
			)`, docID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM pages WHERE document_id = ?", docID); err != nil {
			return err
		}
		return nil
	})
}

// DeleteDocument removes a document and cascades to all related data.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if err := s.DeleteDocumentData(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	return err
}

// --- Page and span operations ---

// InsertPage inserts a page record and returns its ID.
func (s *Store) InsertPage(ctx context.Context, p Page) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (document_id, page_number, width, height, source, image)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.DocumentID, p.PageNumber, p.Width, p.Height, p.Source, p.Image)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetPage retrieves a single page by document ID and page number.
func (s *Store) GetPage(ctx context.Context, docID string, pageNumber int) (*Page, error) {
	p := &Page{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, page_number, width, height, source, image
		FROM pages WHERE document_id = ? AND page_number = ?
	`, docID, pageNumber).Scan(&p.ID, &p.DocumentID, &p.PageNumber, &p.Width, &p.Height, &p.Source, &p.Image)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// InsertSpans inserts a batch of spans for one page and returns their IDs
// in the same order.
func (s *Store) InsertSpans(ctx context.Context, pageID int64, spans []Span) ([]int64, error) {
	ids := make([]int64, len(spans))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO spans (page_id, span_index, text, x1, y1, x2, y2)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, sp := range spans {
			res, err := stmt.ExecContext(ctx, pageID, sp.SpanIndex, sp.Text, sp.X1, sp.Y1, sp.X2, sp.Y2)
			if err != nil {
				return err
			}
			ids[i], err = res.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

// GetPageByID retrieves a single page by its internal ID, for evidence
// ranking which only has a span's page_id to work from.
func (s *Store) GetPageByID(ctx context.Context, pageID int64) (*Page, error) {
	p := &Page{ID: pageID}
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, page_number, width, height, source
		FROM pages WHERE id = ?
	`, pageID).Scan(&p.DocumentID, &p.PageNumber, &p.Width, &p.Height, &p.Source)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPagesByDocument returns every page of a document, ordered by page
// number, for evidence ranking and status reporting.
func (s *Store) ListPagesByDocument(ctx context.Context, docID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, page_number, width, height, source
		FROM pages WHERE document_id = ? ORDER BY page_number
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.PageNumber, &p.Width, &p.Height, &p.Source); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// GetSpansByPage returns all spans for a page in span_index order.
func (s *Store) GetSpansByPage(ctx context.Context, pageID int64) ([]Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id, span_index, text, x1, y1, x2, y2
		FROM spans WHERE page_id = ? ORDER BY span_index
	`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var sp Span
		if err := rows.Scan(&sp.ID, &sp.PageID, &sp.SpanIndex, &sp.Text, &sp.X1, &sp.Y1, &sp.X2, &sp.Y2); err != nil {
			return nil, err
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// GetSpansByDocument returns every span for a document, joined across its
// pages, in document reading order (page_number, then span_index).
func (s *Store) GetSpansByDocument(ctx context.Context, docID string) ([]Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sp.id, sp.page_id, sp.span_index, sp.text, sp.x1, sp.y1, sp.x2, sp.y2
		FROM spans sp
		JOIN pages p ON p.id = sp.page_id
		WHERE p.document_id = ?
		ORDER BY p.page_number, sp.span_index
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var sp Span
		if err := rows.Scan(&sp.ID, &sp.PageID, &sp.SpanIndex, &sp.Text, &sp.X1, &sp.Y1, &sp.X2, &sp.Y2); err != nil {
			return nil, err
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// GetSpansByIDRange returns the spans with IDs in [startID, endID], ordered
// by ID, for evidence ranking over one chunk's span window.
func (s *Store) GetSpansByIDRange(ctx context.Context, startID, endID int64) ([]Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id, span_index, text, x1, y1, x2, y2
		FROM spans WHERE id BETWEEN ? AND ? ORDER BY id
	`, startID, endID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var sp Span
		if err := rows.Scan(&sp.ID, &sp.PageID, &sp.SpanIndex, &sp.Text, &sp.X1, &sp.Y1, &sp.X2, &sp.Y2); err != nil {
			return nil, err
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// --- Chunk operations ---

// InsertChunks inserts a batch of chunks, assigning each a fresh UUID, and
// returns the assigned IDs in the same order.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) ([]string, error) {
	ids := make([]string, len(chunks))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, document_id, chunk_index, content, content_hash,
				page_start, page_end, span_start_id, span_end_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range chunks {
			id := c.ID
			if id == "" {
				id = uuid.NewString()
			}
			if _, err := stmt.ExecContext(ctx, id, c.DocumentID, c.ChunkIndex, c.Content,
				c.ContentHash, c.PageStart, c.PageEnd, c.SpanStartID, c.SpanEndID); err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	return ids, err
}

// GetChunksByDocument returns all chunks for a document in chunk_index order.
func (s *Store) GetChunksByDocument(ctx context.Context, docID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, content_hash, page_start, page_end,
			span_start_id, span_end_id
		FROM chunks WHERE document_id = ? ORDER BY chunk_index
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.ContentHash,
			&c.PageStart, &c.PageEnd, &c.SpanStartID, &c.SpanEndID); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunk retrieves a single chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	c := &Chunk{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, chunk_index, content, content_hash, page_start, page_end,
			span_start_id, span_end_id
		FROM chunks WHERE id = ?
	`, id).Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.ContentHash,
		&c.PageStart, &c.PageEnd, &c.SpanStartID, &c.SpanEndID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ChunksMissingEmbeddings returns chunks for a document that have no row in
// vec_chunks yet, in chunk_index order, so the embedding cache can backfill
// only what's missing.
func (s *Store) ChunksMissingEmbeddings(ctx context.Context, docID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.content_hash,
			c.page_start, c.page_end, c.span_start_id, c.span_end_id
		FROM chunks c
		LEFT JOIN vec_chunks v ON v.chunk_id = c.id
		WHERE c.document_id = ? AND v.chunk_id IS NULL
		ORDER BY c.chunk_index
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.ContentHash,
			&c.PageStart, &c.PageEnd, &c.SpanStartID, &c.SpanEndID); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Embedding operations ---

// InsertEmbedding stores a vector embedding for a chunk.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)",
		chunkID, serializeFloat32(embedding))
	return err
}

// VectorSearch performs a cosine-distance KNN search scoped to one document,
// returning the top-k nearest chunks ordered by ascending distance (lower is
// closer). Ties are broken by chunk_index so retrieval stays deterministic.
func (s *Store) VectorSearch(ctx context.Context, docID string, queryEmbedding []float32, k int) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id, v.distance, c.document_id, c.content, c.chunk_index, c.page_start, c.page_end
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		WHERE v.embedding MATCH ? AND k = ? AND c.document_id = ?
		ORDER BY v.distance, c.chunk_index
	`, serializeFloat32(queryEmbedding), k, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		if err := rows.Scan(&r.ChunkID, &r.Distance, &r.DocumentID, &r.Content,
			&r.ChunkIndex, &r.PageStart, &r.PageEnd); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Query log ---

// LogQuery writes an entry to the query audit log.
func (s *Store) LogQuery(ctx context.Context, q QueryLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (document_id, question, answer, confidence, citation_count,
			evidence_count, insufficient_evidence, prompt_tokens, completion_tokens, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.DocumentID, q.Question, q.Answer, q.Confidence, q.CitationCount, q.EvidenceCount,
		q.InsufficientEvidence, q.PromptTokens, q.CompletionTokens, q.TotalTokens)
	return err
}

// --- Diagnostics ---

// DBStats holds counts of key database objects.
type DBStats struct {
	Documents  int `json:"documents"`
	Pages      int `json:"pages"`
	Spans      int `json:"spans"`
	Chunks     int `json:"chunks"`
	Embeddings int `json:"embeddings"`
}

// Stats returns row counts across the core tables.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM pages", &stats.Pages},
		{"SELECT COUNT(*) FROM spans", &stats.Spans},
		{"SELECT COUNT(*) FROM chunks", &stats.Chunks},
		{"SELECT COUNT(*) FROM vec_chunks", &stats.Embeddings},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

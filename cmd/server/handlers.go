package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/brunobiangulo/pageproof"
	"github.com/brunobiangulo/pageproof/store"
	"github.com/google/uuid"
)

type handler struct {
	engine *pageproof.Engine
	queue  *ingestQueue
	cfg    pageproof.Config
}

func newHandler(e *pageproof.Engine, q *ingestQueue, cfg pageproof.Config) *handler {
	return &handler{engine: e, queue: q, cfg: cfg}
}

// POST /documents
// Accepts a multipart upload, streams it to <upload_dir>/<doc_id>/source.pdf
// under a hard size cap, creates the document row, and enqueues background
// ingestion.
func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+1)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds maximum size")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !looksLikePDF(header.Filename, header.Header.Get("Content-Type")) {
		writeError(w, http.StatusBadRequest, "only PDF uploads are accepted")
		return
	}

	docID := uuid.NewString()
	docDir := filepath.Join(h.cfg.UploadDir, docID)
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to prepare upload directory")
		slog.Error("creating document upload dir", "doc_id", docID, "error", err)
		return
	}

	destPath := filepath.Join(docDir, "source.pdf")
	dst, err := os.Create(destPath)
	if err != nil {
		cleanupUploadDir(h.cfg.UploadDir, docID)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		slog.Error("creating source.pdf", "doc_id", docID, "error", err)
		return
	}

	_, copyErr := io.Copy(dst, file)
	dst.Close()
	if copyErr != nil {
		cleanupUploadDir(h.cfg.UploadDir, docID)
		if isTooLarge(copyErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds maximum size")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		slog.Error("saving source.pdf", "doc_id", docID, "error", copyErr)
		return
	}

	absPath, err := filepath.Abs(destPath)
	if err == nil {
		_, err = h.engine.Store().UpsertDocument(r.Context(), store.Document{
			ID: docID, Path: absPath, Filename: header.Filename, Status: store.StatusProcessing,
		})
	}
	if err != nil {
		cleanupUploadDir(h.cfg.UploadDir, docID)
		writeError(w, http.StatusInternalServerError, "failed to register document")
		slog.Error("creating document row", "doc_id", docID, "error", err)
		return
	}

	h.queue.enqueue(docID, destPath)

	writeJSON(w, http.StatusCreated, map[string]string{"document_id": docID})
}

// GET /documents/{id}/status
func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	docID, ok := parseDocID(w, r)
	if !ok {
		return
	}

	doc, err := h.engine.Document(r.Context(), docID)
	if err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	resp := map[string]interface{}{"status": doc.Status}
	if doc.Status == store.StatusReady {
		resp["total_pages"] = doc.PageCount
		if page, err := h.engine.Page(r.Context(), docID, 1); err == nil {
			resp["page_width"] = page.Width
			resp["page_height"] = page.Height
		}
	}
	if doc.Error != "" {
		resp["error_message"] = doc.Error
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /documents/{id}/pages/{n}
func (h *handler) handlePageImage(w http.ResponseWriter, r *http.Request) {
	docID, ok := parseDocID(w, r)
	if !ok {
		return
	}

	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 {
		writeError(w, http.StatusNotFound, "invalid page number")
		return
	}

	page, err := h.engine.Page(r.Context(), docID, n)
	if err != nil || len(page.Image) == 0 {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(page.Image)
}

// POST /documents/{id}/ask
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	docID, ok := parseDocID(w, r)
	if !ok {
		return
	}

	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "question must not be empty")
		return
	}

	resp, err := h.engine.Ask(r.Context(), docID, question)
	if err != nil {
		switch {
		case errors.Is(err, pageproof.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, pageproof.ErrDocumentNotReady):
			writeError(w, http.StatusConflict, "document is not ready for questions")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
			slog.Error("ask failed", "doc_id", docID, "error", err, "kind", pageproof.AsKind(err))
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseDocID(w http.ResponseWriter, r *http.Request) (string, bool) {
	idStr := r.PathValue("id")
	if _, err := uuid.Parse(idStr); err != nil {
		writeError(w, http.StatusNotFound, "invalid document id")
		return "", false
	}
	return idStr, true
}

func looksLikePDF(filename, contentType string) bool {
	if strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return true
	}
	return strings.Contains(strings.ToLower(contentType), "pdf")
}

func isTooLarge(err error) bool {
	return err != nil && strings.Contains(err.Error(), "http: request body too large")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brunobiangulo/pageproof"
)

// ingestJob is one queued background ingestion: a document already created
// with status=processing, whose source PDF is already on disk at path.
type ingestJob struct {
	docID string
	path  string
}

// ingestQueue dispatches ingestion jobs onto a small, fixed pool of
// goroutines draining a buffered channel: a long-lived worker pool that
// outlives any single request.
type ingestQueue struct {
	jobs chan ingestJob
	wg   sync.WaitGroup
}

func newIngestQueue(engine *pageproof.Engine, workers, buffer int) *ingestQueue {
	q := &ingestQueue{jobs: make(chan ingestJob, buffer)}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker(engine)
	}
	return q
}

func (q *ingestQueue) worker(engine *pageproof.Engine) {
	defer q.wg.Done()
	for job := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		start := time.Now()
		if _, err := engine.Ingest(ctx, job.docID, job.path); err != nil {
			slog.Error("background ingest failed", "doc_id", job.docID, "error", err)
		} else {
			slog.Info("background ingest complete", "doc_id", job.docID,
				"elapsed", time.Since(start).Round(time.Millisecond))
		}
		cancel()
	}
}

// enqueue queues docID/path for background ingestion. If every worker is
// busy and the buffer is full, enqueue blocks the calling request until a
// slot frees up rather than dropping the upload.
func (q *ingestQueue) enqueue(docID, path string) {
	q.jobs <- ingestJob{docID: docID, path: path}
}

func (q *ingestQueue) close() {
	close(q.jobs)
	q.wg.Wait()
}

// cleanupUploadDir removes a document's upload directory, used when a
// request fails after the directory was already created.
func cleanupUploadDir(uploadDir, docID string) {
	if err := os.RemoveAll(filepath.Join(uploadDir, docID)); err != nil {
		slog.Warn("cleaning up upload dir", "doc_id", docID, "error", err)
	}
}

// Package embed backfills chunk embeddings into the vector store, lazily
// and idempotently: only chunks missing a vec_chunks row are ever sent to
// the provider.
package embed

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/pageproof/llm"
	"github.com/brunobiangulo/pageproof/store"
)

// BatchSize is the number of chunk texts embedded per provider call.
const BatchSize = 64

// maxEmbedChars truncates pathologically long chunk text before sending it
// to the embedding provider, mirroring the teacher's input-size guard.
const maxEmbedChars = 8000

// Cache backfills embeddings for a document's chunks.
type Cache struct {
	Provider llm.Provider
	Store    *store.Store
}

// New builds a Cache.
func New(provider llm.Provider, st *store.Store) *Cache {
	return &Cache{Provider: provider, Store: st}
}

// Backfill embeds every chunk of docID that has no vector yet, in batches
// of BatchSize, and inserts each resulting vector. A failed batch falls
// back to embedding its texts one at a time so a single bad input doesn't
// drop the whole batch's embeddings.
func (c *Cache) Backfill(ctx context.Context, docID string) (int, error) {
	pending, err := c.Store.ChunksMissingEmbeddings(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("listing chunks missing embeddings: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	embedded := 0
	for start := 0; start < len(pending); start += BatchSize {
		end := start + BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = truncate(ch.Content, maxEmbedChars)
		}

		vectors, err := c.Provider.Embed(ctx, texts)
		if err != nil {
			n, ferr := c.embedOneByOne(ctx, batch)
			embedded += n
			if ferr != nil {
				return embedded, fmt.Errorf("embedding batch [%d:%d]: %w", start, end, ferr)
			}
			continue
		}
		if len(vectors) != len(batch) {
			return embedded, fmt.Errorf("embedding batch [%d:%d]: got %d vectors for %d chunks", start, end, len(vectors), len(batch))
		}

		for i, ch := range batch {
			if err := c.Store.InsertEmbedding(ctx, ch.ID, vectors[i]); err != nil {
				return embedded, fmt.Errorf("storing embedding for chunk %s: %w", ch.ID, err)
			}
			embedded++
		}
	}

	return embedded, nil
}

// embedOneByOne retries a failed batch chunk by chunk so one malformed
// input doesn't cost the whole batch its embeddings.
func (c *Cache) embedOneByOne(ctx context.Context, chunks []store.Chunk) (int, error) {
	embedded := 0
	for _, ch := range chunks {
		vectors, err := c.Provider.Embed(ctx, []string{truncate(ch.Content, maxEmbedChars)})
		if err != nil || len(vectors) != 1 {
			return embedded, fmt.Errorf("embedding chunk %s: %w", ch.ID, err)
		}
		if err := c.Store.InsertEmbedding(ctx, ch.ID, vectors[0]); err != nil {
			return embedded, fmt.Errorf("storing embedding for chunk %s: %w", ch.ID, err)
		}
		embedded++
	}
	return embedded, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

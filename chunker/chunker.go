// Package chunker builds overlapping text chunks from the flat,
// document-wide, reading-order list of spans produced by parser.Extractor.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// maxChunkChars is the greedy-pack ceiling on joined chunk text length.
const maxChunkChars = 900

// overlapSpans is how many trailing spans of a window carry into the next
// window's start.
const overlapSpans = 20

// SpanRef is the minimal view of a persisted Span a chunk needs: its
// database ID, text, and owning page, in document reading order.
type SpanRef struct {
	ID   int64
	Text string
	Page int
}

// Chunk is one sliding-window text chunk over the document's spans.
type Chunk struct {
	ChunkIndex  int
	Text        string
	ContentHash string
	PageStart   int
	PageEnd     int
	SpanStartID int64
	SpanEndID   int64
}

// Build packs spans into overlapping windows: starting at index start,
// extend end while the joined text (span texts plus one inter-word space
// each) stays at or under maxChunkChars, always including at least one
// span; then advance start to end-overlapSpans (but at least one span
// forward), guaranteeing monotone progress.
func Build(spans []SpanRef) []Chunk {
	n := len(spans)
	if n == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < n {
		end := start
		length := 0
		for end < n {
			wordLen := len(spans[end].Text)
			add := wordLen
			if end > start {
				add = wordLen + 1 // inter-word space
			}
			if end > start && length+add > maxChunkChars {
				break
			}
			length += add
			end++
		}
		if end == start {
			end = start + 1 // always include at least one span
		}

		window := spans[start:end]
		chunks = append(chunks, buildChunk(len(chunks), window))

		if end >= n {
			break
		}
		next := end - overlapSpans
		if next < start+1 {
			next = start + 1
		}
		start = next
	}
	return chunks
}

func buildChunk(index int, window []SpanRef) Chunk {
	texts := make([]string, len(window))
	for i, s := range window {
		texts[i] = s.Text
	}
	text := strings.TrimSpace(strings.Join(texts, " "))

	return Chunk{
		ChunkIndex:  index,
		Text:        text,
		ContentHash: contentHash(text),
		PageStart:   window[0].Page,
		PageEnd:     window[len(window)-1].Page,
		SpanStartID: window[0].ID,
		SpanEndID:   window[len(window)-1].ID,
	}
}

// contentHash returns the SHA-256 hex digest of text.
func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

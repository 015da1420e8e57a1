package chunker

import "testing"

func repeatSpans(n int, wordLen int) []SpanRef {
	word := make([]byte, wordLen)
	for i := range word {
		word[i] = 'a'
	}
	spans := make([]SpanRef, n)
	for i := range spans {
		spans[i] = SpanRef{ID: int64(i + 1), Text: string(word), Page: 1 + i/10}
	}
	return spans
}

func TestBuildSingleSpan(t *testing.T) {
	spans := []SpanRef{{ID: 1, Text: "hello", Page: 1}}
	chunks := Build(spans)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "hello" {
		t.Errorf("text = %q", chunks[0].Text)
	}
	if chunks[0].SpanStartID != 1 || chunks[0].SpanEndID != 1 {
		t.Errorf("span bounds = %d..%d, want 1..1", chunks[0].SpanStartID, chunks[0].SpanEndID)
	}
}

func TestBuildEmpty(t *testing.T) {
	if chunks := Build(nil); chunks != nil {
		t.Errorf("got %v, want nil", chunks)
	}
}

// TestBuildCapacity checks the worked packing math from the 20-char-word
// case: a window fits 20 + 21k <= 900 additional words, i.e. 42 spans.
func TestBuildCapacity(t *testing.T) {
	spans := repeatSpans(42, 20)
	chunks := Build(spans)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 (42 spans should fit in one window)", len(chunks))
	}
	if chunks[0].SpanEndID != 42 {
		t.Errorf("span end = %d, want 42", chunks[0].SpanEndID)
	}

	spans = repeatSpans(43, 20)
	chunks = Build(spans)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (43 spans overflow one window)", len(chunks))
	}
	if chunks[0].SpanEndID != 42 {
		t.Errorf("first window end = %d, want 42", chunks[0].SpanEndID)
	}
	// second window starts at max(42-20, 1) = 22 (1-indexed span id 23)
	if chunks[1].SpanStartID != 23 {
		t.Errorf("second window start id = %d, want 23", chunks[1].SpanStartID)
	}
}

// TestBuildCoverageAndOverlap verifies the two chunking invariants: every
// span is covered by at least one chunk, and consecutive chunks that both
// fill to capacity overlap by exactly overlapSpans positions.
func TestBuildCoverageAndOverlap(t *testing.T) {
	spans := repeatSpans(120, 20)
	chunks := Build(spans)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if chunks[0].SpanStartID != spans[0].ID {
		t.Errorf("first chunk does not start at first span")
	}
	last := chunks[len(chunks)-1]
	if last.SpanEndID != spans[len(spans)-1].ID {
		t.Errorf("last chunk end id = %d, want %d", last.SpanEndID, spans[len(spans)-1].ID)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].SpanStartID > chunks[i-1].SpanEndID+1 {
			t.Errorf("gap between chunk %d (ends %d) and chunk %d (starts %d)",
				i-1, chunks[i-1].SpanEndID, i, chunks[i].SpanStartID)
		}
	}
}

func TestBuildPageBounds(t *testing.T) {
	spans := []SpanRef{
		{ID: 1, Text: "a", Page: 1},
		{ID: 2, Text: "b", Page: 1},
		{ID: 3, Text: "c", Page: 2},
	}
	chunks := Build(spans)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].PageStart != 1 || chunks[0].PageEnd != 2 {
		t.Errorf("page bounds = %d..%d, want 1..2", chunks[0].PageStart, chunks[0].PageEnd)
	}
}

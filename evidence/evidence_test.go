package evidence

import "testing"

func line(id int64, text string, x1, y1, x2, y2 float64) Span {
	return Span{ID: id, Text: text, X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestGroupLinesSeparatesByY(t *testing.T) {
	spans := []Span{
		line(1, "Hello", 0, 100, 40, 110),
		line(2, "world", 42, 100, 80, 110),
		line(3, "Second", 0, 80, 50, 90),
		line(4, "line", 52, 80, 80, 90),
	}
	lines := GroupLines(spans)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].Text != "Hello world" {
		t.Errorf("top line text = %q, want %q", lines[0].Text, "Hello world")
	}
	if lines[1].Text != "Second line" {
		t.Errorf("bottom line text = %q, want %q", lines[1].Text, "Second line")
	}
}

func TestGroupLinesMergesCloseSpans(t *testing.T) {
	spans := []Span{
		line(1, "A", 0, 100.0, 10, 110.0),
		line(2, "B", 12, 101.5, 22, 111.5),
	}
	lines := GroupLines(spans)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 (within tolerance)", len(lines))
	}
}

func TestWeightedOverlapRewardsLongerTerms(t *testing.T) {
	short := weightedOverlap("the cat sat", []string{"cat"})
	long := weightedOverlap("documentation overview", []string{"documentation"})
	if long <= short {
		t.Errorf("expected longer matched term to score higher: short=%v long=%v", short, long)
	}
}

func TestSignatureSignalDetectsExplicitPhrase(t *testing.T) {
	got := signatureSignal("this document was signed by alice")
	if got != 2.25 {
		t.Errorf("signatureSignal = %v, want 2.25 for explicit 'signed by' phrase (2.0 plus the ' by ' bonus)", got)
	}
}

func TestValidateRejectsUnbackedBBox(t *testing.T) {
	items := []Item{{Page: 1, BBox: Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, Score: 1}}
	spansByPage := map[int][]Span{
		1: {line(1, "x", 100, 100, 110, 110)}, // does not intersect
	}
	if Validate(items, spansByPage) {
		t.Errorf("expected Validate to reject an item with no intersecting span")
	}
}

func TestValidateAcceptsIntersectingSpan(t *testing.T) {
	items := []Item{{Page: 1, BBox: Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, Score: 1}}
	spansByPage := map[int][]Span{
		1: {line(1, "x", 5, 5, 15, 15)},
	}
	if !Validate(items, spansByPage) {
		t.Errorf("expected Validate to accept an item with an intersecting span")
	}
}

func TestRankSignatureModeKeepsOnlySignatureLines(t *testing.T) {
	pages := []PageSpans{
		{
			Page: 1, Width: 600, Height: 800,
			Spans: []Span{
				line(1, "Operational", 0, 700, 100, 710),
				line(2, "note", 102, 700, 140, 710),
				line(3, "Signed", 0, 100, 60, 110),
				line(4, "by", 62, 100, 80, 110),
				line(5, "Alice", 82, 100, 130, 110),
			},
		},
	}
	cfg := DefaultConfig()
	items := Rank("Who signed the document?", "Alice signed it.", pages, cfg)
	if len(items) == 0 {
		t.Fatalf("expected at least one evidence item in signature mode")
	}
	for _, it := range items {
		if it.Text != "Signed by Alice" {
			t.Errorf("unexpected evidence text in signature mode: %q", it.Text)
		}
	}
}

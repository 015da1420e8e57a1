// Package evidence turns cited chunks into page-anchored, scored excerpts
// and validates that every excerpt's bounding box is actually backed by
// document spans. It operates entirely over in-memory spans — no storage
// import — so the line grouping, scoring, and selection logic are testable
// independent of the database.
package evidence

import (
	"math"
	"sort"
)

// Span is the minimal per-word geometry evidence needs from store.Span.
type Span struct {
	ID   int64
	Text string
	X1   float64
	Y1   float64
	X2   float64
	Y2   float64
}

// Line is one visual line of text on a page: its member spans, sorted by
// X1, joined into an excerpt, and their union bounding box.
type Line struct {
	Spans []Span
	Text  string
	X1    float64
	Y1    float64
	X2    float64
	Y2    float64
}

func midY(s Span) float64 { return (s.Y1 + s.Y2) / 2 }

// GroupLines sweeps spans (sorted by vertical mid-y then x1) into visual
// lines using a per-page adaptive tolerance: the median of each span's
// max(0.5, height) times 0.65, clamped to [2.5, 10.0]. A span joins the
// current line if its mid-y is within tolerance of the line's running mean
// mid-y; otherwise it starts a new line.
func GroupLines(spans []Span) []Line {
	if len(spans) == 0 {
		return nil
	}

	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		if midY(sorted[i]) != midY(sorted[j]) {
			return midY(sorted[i]) > midY(sorted[j])
		}
		return sorted[i].X1 < sorted[j].X1
	})

	tolerance := lineTolerance(sorted)

	var lines []Line
	var current []Span
	var centerSum float64
	var centerCount int

	flush := func() {
		if len(current) == 0 {
			return
		}
		lines = append(lines, buildLine(current))
		current = nil
		centerSum = 0
		centerCount = 0
	}

	for _, sp := range sorted {
		y := midY(sp)
		if centerCount == 0 {
			current = append(current, sp)
			centerSum += y
			centerCount++
			continue
		}
		center := centerSum / float64(centerCount)
		if math.Abs(y-center) <= tolerance {
			current = append(current, sp)
			centerSum += y
			centerCount++
			continue
		}
		flush()
		current = append(current, sp)
		centerSum = y
		centerCount = 1
	}
	flush()

	return lines
}

func lineTolerance(spans []Span) float64 {
	heights := make([]float64, len(spans))
	for i, sp := range spans {
		h := sp.Y2 - sp.Y1
		if h < 0.5 {
			h = 0.5
		}
		heights[i] = h
	}
	sort.Float64s(heights)
	median := heights[len(heights)/2]
	if len(heights)%2 == 0 && len(heights) > 1 {
		median = (heights[len(heights)/2-1] + heights[len(heights)/2]) / 2
	}

	tol := median * 0.65
	if tol < 2.5 {
		tol = 2.5
	}
	if tol > 10.0 {
		tol = 10.0
	}
	return tol
}

func buildLine(spans []Span) Line {
	ordered := make([]Span, len(spans))
	copy(ordered, spans)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].X1 < ordered[j].X1 })

	l := Line{Spans: ordered}
	for i, sp := range ordered {
		if i == 0 {
			l.X1, l.Y1, l.X2, l.Y2 = sp.X1, sp.Y1, sp.X2, sp.Y2
		} else {
			l.X1 = math.Min(l.X1, sp.X1)
			l.Y1 = math.Min(l.Y1, sp.Y1)
			l.X2 = math.Max(l.X2, sp.X2)
			l.Y2 = math.Max(l.Y2, sp.Y2)
		}
		if i > 0 {
			l.Text += " "
		}
		l.Text += sp.Text
	}
	return l
}

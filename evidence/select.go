package evidence

import (
	"fmt"
	"math"
	"sort"
)

// Box is an axis-aligned bounding box in page coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

func (b Box) area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	return w * h
}

// Item is one evidence excerpt anchored to a page.
type Item struct {
	Page       int
	Text       string
	BBox       Box
	PageWidth  float64
	PageHeight float64
	Score      float64
}

// SelectConfig controls per-page and global evidence selection.
type SelectConfig struct {
	MinKeywordOverlap       int     // default 1
	RelativeScoreThreshold  float64 // default 0.60
	MinAbsoluteScore        float64 // default 0.20
	DropRatioStop           float64 // default 0.72
	MaxEvidenceItems        int     // 0 = unlimited
}

// DefaultSelectConfig returns the spec's default selection thresholds.
func DefaultSelectConfig() SelectConfig {
	return SelectConfig{
		MinKeywordOverlap:      1,
		RelativeScoreThreshold: 0.60,
		MinAbsoluteScore:       0.20,
		DropRatioStop:          0.72,
	}
}

func isRelevant(l ScoredLine, signatureMode bool) bool {
	if signatureMode {
		return l.SignatureSignal >= 0.9
	}
	return l.AnswerOverlap+l.QuestionOverlap > 0 || l.BaseScore >= 0.75
}

// SelectPage picks the evidence lines for one page, already scored and
// sorted by ScoreLines. Signature mode keeps every line with a signature
// signal ≥ 0.9 (or none at all); normal mode seeds from the best two
// keyword-relevant lines and expands to immediate neighbors before backfill.
func SelectPage(page int, pageWidth, pageHeight float64, scored []ScoredLine, cfg SelectConfig, signatureMode bool) []Item {
	if len(scored) == 0 {
		return nil
	}

	var chosen []int
	if signatureMode {
		for i, l := range scored {
			if l.SignatureSignal >= 0.9 {
				chosen = append(chosen, i)
			}
		}
		return itemsFromIndices(page, pageWidth, pageHeight, scored, chosen)
	}

	var candidates []int
	for i, l := range scored {
		if l.AnswerOverlap+l.QuestionOverlap >= cfg.MinKeywordOverlap {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		candidates = []int{0}
	}

	seeds := candidates
	if len(seeds) > 2 {
		seeds = seeds[:2]
	}

	picked := make(map[int]bool)
	mid := func(i int) float64 { return scored[i].Y1 + scored[i].Y2 }
	for _, s := range seeds {
		picked[s] = true
		above, below := -1, -1
		for j := range scored {
			if mid(j) > mid(s) && (above < 0 || mid(j) < mid(above)) {
				above = j
			}
			if mid(j) < mid(s) && (below < 0 || mid(j) > mid(below)) {
				below = j
			}
		}
		for _, n := range []int{above, below} {
			if n >= 0 && !picked[n] && isRelevant(scored[n], false) {
				picked[n] = true
			}
		}
	}

	for _, c := range candidates {
		if len(picked) >= len(candidates)+2 {
			break
		}
		if !picked[c] && isRelevant(scored[c], false) {
			picked[c] = true
		}
	}

	if len(picked) == 0 {
		for _, c := range candidates {
			picked[c] = true
		}
	}

	var idxs []int
	for i := range picked {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)

	return itemsFromIndices(page, pageWidth, pageHeight, scored, idxs)
}

func itemsFromIndices(page int, pageWidth, pageHeight float64, scored []ScoredLine, idxs []int) []Item {
	var items []Item
	for _, i := range idxs {
		l := scored[i]
		box := Box{X1: l.X1, Y1: l.Y1, X2: l.X2, Y2: l.Y2}
		if box.area() <= 0 {
			continue
		}
		items = append(items, Item{
			Page:       page,
			Text:       l.Text,
			BBox:       box,
			PageWidth:  pageWidth,
			PageHeight: pageHeight,
			Score:      l.FinalScore,
		})
	}
	return items
}

// DedupeCrossPage removes items whose page and (rounded) bbox collide with
// an earlier one, keeping whichever has the higher score.
func DedupeCrossPage(items []Item) []Item {
	best := make(map[string]Item, len(items))
	var order []string
	for _, it := range items {
		key := dedupeKey(it)
		if existing, ok := best[key]; !ok || it.Score > existing.Score {
			if _, ok := best[key]; !ok {
				order = append(order, key)
			}
			best[key] = it
		}
	}
	out := make([]Item, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func dedupeKey(it Item) string {
	return fmt.Sprintf("%d:%.1f:%.1f:%.1f:%.1f", it.Page, it.BBox.X1, it.BBox.Y1, it.BBox.X2, it.BBox.Y2)
}

// FilterGlobal sorts all items by (−score, page, y1, x1), then greedily
// walks that order keeping items until the score falls below the floor
// (max(MinAbsoluteScore, best*RelativeScoreThreshold)) or the score ratio
// to the previous kept item drops below DropRatioStop. At least the top-1
// item always survives. Survivors are truncated to MaxEvidenceItems in
// score order, then re-sorted for display by (page, y1, x1, −score).
func FilterGlobal(items []Item, cfg SelectConfig) []Item {
	if len(items) == 0 {
		return nil
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.BBox.Y1 != b.BBox.Y1 {
			return a.BBox.Y1 < b.BBox.Y1
		}
		return a.BBox.X1 < b.BBox.X1
	})

	best := items[0].Score
	floor := math.Max(cfg.MinAbsoluteScore, best*cfg.RelativeScoreThreshold)

	var kept []Item
	prev := math.Inf(1)
	for _, it := range items {
		if len(kept) == 0 {
			kept = append(kept, it)
			prev = it.Score
			continue
		}
		if it.Score < floor {
			break
		}
		if prev > 0 && it.Score/prev < cfg.DropRatioStop {
			break
		}
		kept = append(kept, it)
		prev = it.Score
	}

	if cfg.MaxEvidenceItems > 0 && len(kept) > cfg.MaxEvidenceItems {
		kept = kept[:cfg.MaxEvidenceItems]
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.BBox.Y1 != b.BBox.Y1 {
			return a.BBox.Y1 < b.BBox.Y1
		}
		if a.BBox.X1 != b.BBox.X1 {
			return a.BBox.X1 < b.BBox.X1
		}
		return a.Score > b.Score
	})

	return kept
}

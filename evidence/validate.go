package evidence

// Validate rejects the whole evidence set if any item's bbox is degenerate
// or has no span on its page that intersects it (axis-aligned overlap: a
// span's box must overlap the item's box on both axes, not merely touch).
// spansByPage maps a page number to every span extracted for that page.
func Validate(items []Item, spansByPage map[int][]Span) bool {
	for _, it := range items {
		if it.BBox.area() <= 0 {
			return false
		}
		spans := spansByPage[it.Page]
		if !anySpanIntersects(it.BBox, spans) {
			return false
		}
	}
	return true
}

func anySpanIntersects(box Box, spans []Span) bool {
	for _, sp := range spans {
		if spanIntersects(sp, box) {
			return true
		}
	}
	return false
}

func spanIntersects(sp Span, box Box) bool {
	return sp.X2 > box.X1 && sp.X1 < box.X2 && sp.Y2 > box.Y1 && sp.Y1 < box.Y2
}

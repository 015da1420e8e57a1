// Package parser turns a PDF file into per-page word spans, with an OCR
// fallback path arbitrated by a quality score when native extraction looks
// too sparse or too noisy to trust.
package parser

import "context"

// Span is one extracted word and its axis-aligned box in PDF points.
type Span struct {
	Text           string
	X1, Y1, X2, Y2 float64
}

// Metrics summarizes the quality of a word extraction for OCR arbitration.
type Metrics struct {
	WordCount  int
	AlnumRatio float64
}

// PageResult is the extraction product for a single page.
type PageResult struct {
	PageNumber      int
	Width, Height   float64 // MediaBox dimensions, PDF points
	Words           []Span
	Source          string // "native" or "ocr"
	AttemptedOCR    bool
	NativeWordCount int
	OCRWordCount    int
	Image           []byte // rendered page raster, PNG-encoded
}

// DocumentResult is the whole-document extraction product.
type DocumentResult struct {
	Pages []PageResult
}

// Config controls native/OCR extraction and arbitration thresholds.
type Config struct {
	OCREnabled    bool
	MinWords      int
	MinAlnumRatio float64
	OCRLanguage   string
	OCRDPI        int
	OCRFullPage   bool
	OCRTessdata   string
	RasterScale   float64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		OCREnabled:    true,
		MinWords:      18,
		MinAlnumRatio: 0.60,
		OCRLanguage:   "eng",
		OCRDPI:        300,
		OCRFullPage:   true,
		RasterScale:   2.0,
	}
}

// OCRProvider recognizes words in a rendered page image.
type OCRProvider interface {
	Recognize(ctx context.Context, pageImage []byte, cfg Config) ([]Span, error)
}

// Extractor reads PDF files into per-page spans, falling back to OCR when
// the native extraction looks unreliable.
type Extractor struct {
	OCR OCRProvider
	Cfg Config
}

// NewExtractor builds an Extractor. ocrProvider may be nil, in which case
// OCR is never attempted regardless of Cfg.OCREnabled.
func NewExtractor(ocrProvider OCRProvider, cfg Config) *Extractor {
	return &Extractor{OCR: ocrProvider, Cfg: cfg}
}

// Extract parses the PDF at path into per-page word spans and rasters.
func (e *Extractor) Extract(ctx context.Context, path string) (*DocumentResult, error) {
	return extractPDF(ctx, e, path)
}

// Package ocr wraps an external OCR engine behind the narrow interface
// parser.OCRProvider expects, the same way llm.Provider wraps a remote
// chat/embedding engine: callers depend on the interface, not the binary.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/brunobiangulo/pageproof/parser"
)

// Tesseract recognizes page images via the tesseract CLI, configured
// through the same language/DPI/full-page/tessdata knobs the spec
// exposes as configuration keys.
type Tesseract struct {
	BinPath string // defaults to "tesseract" on PATH
}

// NewTesseract returns a Tesseract provider using the given binary, or
// the "tesseract" PATH entry if binPath is empty.
func NewTesseract(binPath string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	return &Tesseract{BinPath: binPath}
}

// Recognize renders pageImage to a temp file and invokes tesseract in TSV
// mode, which reports a bounding box per recognized word.
func (t *Tesseract) Recognize(ctx context.Context, pageImage []byte, cfg parser.Config) ([]parser.Span, error) {
	tmp, err := os.CreateTemp("", "pageproof-ocr-*.png")
	if err != nil {
		return nil, fmt.Errorf("creating ocr temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(pageImage); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing ocr temp file: %w", err)
	}
	tmp.Close()

	args := []string{tmp.Name(), "stdout"}
	if cfg.OCRDPI > 0 {
		args = append(args, "--dpi", strconv.Itoa(cfg.OCRDPI))
	}
	if cfg.OCRLanguage != "" {
		args = append(args, "-l", cfg.OCRLanguage)
	}
	if cfg.OCRTessdata != "" {
		args = append(args, "--tessdata-dir", cfg.OCRTessdata)
	}
	if !cfg.OCRFullPage {
		args = append(args, "--psm", "6")
	}
	args = append(args, "tsv")

	cmd := exec.CommandContext(ctx, t.BinPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract: %w: %s", err, stderr.String())
	}

	return parseTSV(stdout.String()), nil
}

// parseTSV reads tesseract's `tsv` output format, one row per recognized
// token at every segmentation level; word-level rows carry level 5.
func parseTSV(output string) []parser.Span {
	const (
		colLevel = 0
		colLeft  = 6
		colTop   = 7
		colWidth = 8
		colHeight = 9
		colText  = 11
	)

	var spans []parser.Span
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue // header row
		}
		cols := strings.Split(line, "\t")
		if len(cols) <= colText {
			continue
		}
		level := strings.TrimSpace(cols[colLevel])
		if level != "5" { // word level
			continue
		}
		text := strings.TrimSpace(cols[colText])
		if text == "" {
			continue
		}
		left, _ := strconv.ParseFloat(cols[colLeft], 64)
		top, _ := strconv.ParseFloat(cols[colTop], 64)
		width, _ := strconv.ParseFloat(cols[colWidth], 64)
		height, _ := strconv.ParseFloat(cols[colHeight], 64)
		if width <= 0 || height <= 0 {
			continue
		}
		spans = append(spans, parser.Span{
			Text: text,
			X1:   left,
			Y1:   top,
			X2:   left + width,
			Y2:   top + height,
		})
	}
	return spans
}

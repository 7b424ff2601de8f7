// Package pdftext turns PDF files into plain text with a ladder of
// fallback strategies: the embedded text layer first, then per-page
// extraction, and finally image-based OCR for scanned documents.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/velocityai/fundextract/internal/common"
)

// Method identifies which rung of the ladder produced the text.
type Method string

const (
	MethodText   Method = "text"   // whole-document text layer
	MethodPages  Method = "pages"  // per-page text layer with page markers
	MethodOCR    Method = "ocr"    // pdftoppm + tesseract
	MethodFailed Method = "failed"
)

// minTextChars is the threshold under which a rung's output is considered
// unusable and the next rung is tried.
const minTextChars = 100

// scannedThreshold: documents with less text layer than this are treated
// as scanned for reporting purposes.
const scannedThreshold = 50

// Result is the outcome of one document extraction.
type Result struct {
	Text      string
	PageCount int
	Method    Method
	Success   bool
}

// Extractor extracts text from PDFs. The zero value is not usable; use New.
type Extractor struct {
	cfg    common.OCRConfig
	runner Runner
	logger *slog.Logger
}

// New builds an Extractor. A nil runner uses the real exec runner.
func New(cfg common.OCRConfig, runner Runner, logger *slog.Logger) *Extractor {
	if runner == nil {
		runner = execRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Extractor{cfg: cfg, runner: runner, logger: logger}
}

// Extract runs the ladder. It never panics; a document that defeats every
// rung returns Success=false with empty text rather than an error, so one
// bad file cannot abort a batch.
func (e *Extractor) Extract(ctx context.Context, path string) Result {
	text, pages, err := plainText(path)
	if err == nil && usable(text) {
		return Result{Text: clean(text), PageCount: pages, Method: MethodText, Success: true}
	}
	if err != nil {
		e.logger.Warn("pdftext.text_layer_failed", "path", filepath.Base(path), "error", err)
	}

	text, pages, err = perPageText(path)
	if err == nil && usable(text) {
		return Result{Text: clean(text), PageCount: pages, Method: MethodPages, Success: true}
	}
	if err != nil {
		e.logger.Warn("pdftext.per_page_failed", "path", filepath.Base(path), "error", err)
	}

	text, pages, err = e.ocr(ctx, path)
	if err == nil && strings.TrimSpace(text) != "" {
		return Result{Text: clean(text), PageCount: pages, Method: MethodOCR, Success: true}
	}
	if err != nil {
		e.logger.Warn("pdftext.ocr_failed", "path", filepath.Base(path), "error", err)
	}

	return Result{Method: MethodFailed}
}

// IsScanned reports whether the document's text layer is too thin to be
// useful (likely a scanned image PDF). Unreadable files count as scanned.
func IsScanned(path string) bool {
	text, _, err := plainText(path)
	if err != nil {
		return true
	}
	return len(strings.TrimSpace(text)) < scannedThreshold
}

func usable(text string) bool {
	return len(strings.TrimSpace(text)) >= minTextChars
}

// plainText reads the whole embedded text layer in one pass.
func plainText(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", r.NumPage(), fmt.Errorf("read text layer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", r.NumPage(), fmt.Errorf("read text layer: %w", err)
	}
	return buf.String(), r.NumPage(), nil
}

// perPageText extracts page by page, inserting page markers so the model
// can cite source pages. Pages that individually fail are skipped.
func perPageText(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil || strings.TrimSpace(txt) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n=== Page %d ===\n%s", i, txt)
	}
	return b.String(), pages, nil
}

// ocr renders pages to PNG via pdftoppm and feeds them to tesseract.
func (e *Extractor) ocr(ctx context.Context, path string) (string, int, error) {
	tmpDir, err := os.MkdirTemp("", "fx-ocr-*")
	if err != nil {
		return "", 0, err
	}
	defer func(dir string) {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("pdftext.tmp_cleanup_failed", "dir", dir, "error", err)
		}
	}(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.PdftoppmBin, "-r", fmt.Sprintf("%d", e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return "", 0, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", 0, fmt.Errorf("pdftoppm produced no images")
	}

	var b strings.Builder
	for i, img := range matches {
		// tesseract <img> stdout
		out, _, err := e.runner.Run(ctx, e.cfg.TesseractBin, img, "stdout")
		if err != nil {
			e.logger.Warn("pdftext.tesseract_page_failed", "page", i+1, "error", err)
			continue
		}
		txt := strings.TrimSpace(string(out))
		if txt != "" {
			fmt.Fprintf(&b, "\n=== Page %d ===\n%s", i+1, txt)
		}
	}
	return b.String(), len(matches), nil
}

// clean trims blank lines and guarantees valid UTF-8 for downstream
// prompt building and JSON encoding.
func clean(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, strings.TrimRight(l, " \t"))
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

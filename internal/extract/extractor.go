package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ntrivedi/adviceparser/constants"
	"github.com/ntrivedi/adviceparser/internal/common"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	DPI           int    // rasterization DPI for scanned PDFs, default 300

	// MinTextLength is the usable-text threshold: primary extraction below
	// this triggers the OCR fallback, and OCR output below it fails the
	// extraction outright. An all-empty record from a parser must be
	// distinguishable from an extraction that produced nothing.
	MinTextLength int

	TempDir string // scratch space for page rasters; "" -> system default
}

// Extractor is the pdftotext/tesseract-backed TextExtractor.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 50
	}
	return &Extractor{cfg: cfg, runner: execRunner{}, logger: logger}
}

// NewExtractorWithRunner is for tests that stub the external binaries.
func NewExtractorWithRunner(cfg Config, runner Runner, logger *slog.Logger) *Extractor {
	e := NewExtractor(cfg, logger)
	e.runner = runner
	return e
}

// Extract picks a strategy based on the content-type hint, falling back to
// the file extension of the document ref.
func (e *Extractor) Extract(ctx context.Context, doc Document) (Result, error) {
	start := time.Now()
	format := constants.MapContentTypeToFormat(doc.ContentType)
	if format == "" {
		format = constants.MapExtToFormat(filepath.Ext(doc.Ref))
	}
	e.logger.Debug("starting text extraction", "ref", doc.Ref, "format", format, "bytes", len(doc.Data))

	switch format {
	case constants.XML, constants.TXT:
		// Already text; parsers consume the payload directly.
		res := Result{Text: string(doc.Data), Format: format, Method: "passthrough"}
		res.Duration = time.Since(start)
		if !e.usable(res.Text) {
			return res, fmt.Errorf("%w: %s payload empty: %s", common.ErrExtractionFailed, format, doc.Ref)
		}
		return res, nil
	case constants.PDF:
		res, err := e.extractPDF(ctx, doc)
		res.Format = constants.PDF
		res.Duration = time.Since(start)
		return res, err
	default:
		return Result{}, fmt.Errorf("%w: unsupported document type %q for %s", common.ErrExtractionFailed, doc.ContentType, doc.Ref)
	}
}

// extractPDF runs pdftotext and, when the yield is below the usable-text
// threshold, retries through the OCR path. All scratch files live in one
// temp directory that is removed on every exit path.
func (e *Extractor) extractPDF(ctx context.Context, doc Document) (Result, error) {
	dir, err := os.MkdirTemp(e.cfg.TempDir, "advice-extract-*")
	if err != nil {
		return Result{}, fmt.Errorf("%w: temp dir: %v", common.ErrExtractionFailed, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			e.logger.Warn("temp cleanup failed", "dir", dir, "error", rmErr)
		}
	}()

	pdfPath := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(pdfPath, doc.Data, 0o600); err != nil {
		return Result{}, fmt.Errorf("%w: write temp pdf: %v", common.ErrExtractionFailed, err)
	}

	var res Result
	out, _, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", pdfPath, "-")
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("pdftotext: %v", err))
	} else {
		res.Text = string(out)
		res.Method = "pdf-text"
	}

	if e.usable(res.Text) {
		return res, nil
	}

	if !doc.UseOCR {
		return res, fmt.Errorf("%w: pdf text below threshold and ocr disabled: %s", common.ErrExtractionFailed, doc.Ref)
	}

	e.logger.Info("pdf text below threshold, retrying via ocr", "ref", doc.Ref, "chars", len(strings.TrimSpace(res.Text)))
	text, pages, err := e.ocrPDF(ctx, dir, pdfPath)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("ocr: %v", err))
		return res, fmt.Errorf("%w: ocr fallback: %v", common.ErrExtractionFailed, err)
	}
	res.Text = text
	res.Method = "pdf-ocr"
	res.Pages = pages

	if !e.usable(res.Text) {
		return res, fmt.Errorf("%w: ocr produced no usable text: %s", common.ErrExtractionFailed, doc.Ref)
	}
	return res, nil
}

// ocrPDF rasterizes pages with pdftoppm and feeds each to tesseract.
func (e *Extractor) ocrPDF(ctx context.Context, dir, pdfPath string) (string, int, error) {
	prefix := filepath.Join(dir, "page")
	if _, _, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprint(e.cfg.DPI), "-png", pdfPath, prefix); err != nil {
		return "", 0, fmt.Errorf("pdftoppm: %w", err)
	}

	pages, err := filepath.Glob(prefix + "*.png")
	if err != nil || len(pages) == 0 {
		return "", 0, fmt.Errorf("no rasterized pages under %s", dir)
	}
	sort.Strings(pages)

	var sb strings.Builder
	for _, page := range pages {
		out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, page, "-", "-l", e.cfg.TesseractLang)
		if err != nil {
			return "", 0, fmt.Errorf("tesseract %s: %w", filepath.Base(page), err)
		}
		sb.Write(out)
		sb.WriteByte('\n')
	}
	return strings.TrimSpace(sb.String()), len(pages), nil
}

func (e *Extractor) usable(text string) bool {
	return len(strings.TrimSpace(text)) >= e.cfg.MinTextLength
}

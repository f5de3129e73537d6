package extract

import (
	"context"
	"time"
)

// TextExtractor converts a source document into raw text.
type TextExtractor interface {
	Extract(ctx context.Context, doc Document) (Result, error)
}

// Document is the raw input handed to the extractor.
type Document struct {
	Ref         string // original path or URL, used for extension hints and logs
	Data        []byte
	ContentType string // MIME hint; "" falls back to the Ref extension
	UseOCR      bool   // allow the optical-recognition fallback
}

type Result struct {
	Text     string
	Format   string // constants.PDF | constants.XML | constants.TXT
	Method   string // "pdf-text" | "pdf-ocr" | "passthrough"
	Pages    int
	Duration time.Duration
	Warnings []string
}

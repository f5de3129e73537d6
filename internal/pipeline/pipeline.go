package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/ntrivedi/adviceparser/internal/common"
	"github.com/ntrivedi/adviceparser/internal/entity"
	"github.com/ntrivedi/adviceparser/internal/extract"
	"github.com/ntrivedi/adviceparser/internal/parser"
	"github.com/ntrivedi/adviceparser/internal/store"
)

// Result is the outcome of processing one document end to end.
type Result struct {
	AdviceID   uuid.UUID
	ParserUsed string
	Customer   string
	Format     string
	Warnings   []string
}

// Options tunes per-document processing.
type Options struct {
	// Strict rejects documents whose explicitly supplied customer has no
	// registered parser instead of falling back to generic.
	Strict bool
	// SumTolerance bounds the allowed drift between the payment amount and
	// the invoice line total before a warning is attached.
	SumTolerance decimal.Decimal
	// DedupTTL controls how long dedup keys stay in the advisory cache.
	DedupTTL time.Duration
	// UseOCR enables the OCR fallback for scanned PDFs.
	UseOCR bool
}

// Pipeline runs one document through extraction, parsing, validation,
// duplicate screening, and persistence. It is safe for concurrent use.
type Pipeline struct {
	extractor extract.TextExtractor
	registry  *parser.Registry
	store     store.Store
	opts      Options

	// seenKeys is an advisory fast path; the database unique constraint is
	// the authoritative guard.
	seenKeys *gocache.Cache
	logger   *slog.Logger
}

func New(extractor extract.TextExtractor, registry *parser.Registry, st store.Store, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SumTolerance.IsZero() {
		opts.SumTolerance = decimal.NewFromFloat(0.01)
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 10 * time.Minute
	}
	return &Pipeline{
		extractor: extractor,
		registry:  registry,
		store:     st,
		opts:      opts,
		seenKeys:  gocache.New(opts.DedupTTL, opts.DedupTTL),
		logger:    logger,
	}
}

// Process takes a raw document through the full pipeline. The returned
// Result carries the persisted advice ID and any non-fatal warnings.
func (p *Pipeline) Process(ctx context.Context, doc extract.Document, customer string) (*Result, error) {
	start := time.Now()

	if p.opts.UseOCR {
		doc.UseOCR = true
	}
	ext, err := p.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, err
	}

	req := parser.Request{
		DocumentRef:  doc.Ref,
		RawText:      ext.Text,
		CustomerName: customer,
		SourceFormat: ext.Format,
	}
	strategy, resolved, err := p.registry.Dispatch(req, parser.DispatchOptions{Strict: p.opts.Strict})
	if err != nil {
		return nil, err
	}
	req.CustomerName = resolved

	adv, err := p.registry.ParseWithFallback(strategy, req)
	if err != nil {
		return nil, err
	}
	if adv.CustomerName == "" {
		adv.CustomerName = resolved
	}
	adv.RawText = ext.Text
	adv.SourceFormat = ext.Format

	if err := ValidateAdvice(adv); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}

	res := &Result{
		ParserUsed: adv.ParserUsed,
		Customer:   adv.CustomerName,
		Format:     ext.Format,
		Warnings:   append([]string(nil), ext.Warnings...),
	}
	if !adv.LinesSumMatches(p.opts.SumTolerance) {
		warn := fmt.Sprintf("invoice lines total %s differs from payment amount %s",
			adv.LinesTotal().StringFixed(2), adv.PaymentAmount.StringFixed(2))
		res.Warnings = append(res.Warnings, warn)
		p.logger.Warn("invoice line sum mismatch",
			"document", doc.Ref, "lines_total", adv.LinesTotal(), "payment_amount", adv.PaymentAmount)
	}

	if err := p.screenDuplicate(ctx, adv); err != nil {
		return nil, err
	}

	id, err := p.store.SaveAdvice(ctx, adv)
	if err != nil {
		return nil, err
	}
	if key := adv.DedupKey(); key != "" {
		p.seenKeys.Set(key, id, gocache.DefaultExpiration)
	}

	res.AdviceID = id
	p.logger.Info("document processed",
		"document", doc.Ref,
		"advice_id", id,
		"parser", adv.ParserUsed,
		"method", ext.Method,
		"duration", time.Since(start))
	return res, nil
}

// screenDuplicate is the advisory pre-check. It catches repeats cheaply but
// the persist-time unique constraint remains the source of truth.
func (p *Pipeline) screenDuplicate(ctx context.Context, adv *entity.PaymentAdvice) error {
	key := adv.DedupKey()
	if key == "" {
		return nil
	}
	if _, hit := p.seenKeys.Get(key); hit {
		return fmt.Errorf("%w: key %q", common.ErrDuplicateRejected, key)
	}
	dup, err := p.store.IsDuplicate(ctx, adv.UTRRRNNo, adv.BankReferenceNo)
	if err != nil {
		return fmt.Errorf("duplicate screen: %w", err)
	}
	if dup {
		return fmt.Errorf("%w: key %q", common.ErrDuplicateRejected, key)
	}
	return nil
}

// SupportedCustomers lists the customers with a dedicated parser.
func (p *Pipeline) SupportedCustomers() []string {
	return p.registry.SupportedCustomers()
}

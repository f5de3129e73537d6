// Package parser holds the per-customer extraction strategies and the
// registry that picks one for a document. Every strategy consumes raw text
// and produces the same canonical advice shape; a generic fallback covers
// layouts nobody has written a dedicated strategy for.
package parser

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ntrivedi/adviceparser/constants"
	"github.com/ntrivedi/adviceparser/internal/entity"
)

// parseVersion tags every advice with the strategy revision that made it.
const parseVersion = "1.1"

// Request carries everything a strategy needs. Strategies are pure given a
// request: no hidden state, safe to reuse across documents and goroutines.
type Request struct {
	DocumentRef  string
	RawText      string
	CustomerName string // resolved customer identity, may be "" for generic
	SourceFormat string // constants.PDF | constants.XML | constants.TXT
}

// Parser is the polymorphic strategy contract, one implementation per known
// customer layout plus the generic fallback.
type Parser interface {
	// Name identifies the strategy in audit fields and item records.
	Name() string
	// Parse extracts a canonical advice from the request text. Only the
	// generic parser is required to never fail; customer strategies may
	// return an error, which the dispatcher recovers by falling back.
	Parse(req Request) (*entity.PaymentAdvice, error)
}

// detectCurrency finds an explicit currency marker in the text, defaulting
// when absent.
func detectCurrency(text string) string {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(text, "₹") || strings.Contains(upper, "INR"):
		return "INR"
	case strings.Contains(upper, "USD") || strings.Contains(text, "$"):
		return "USD"
	case strings.Contains(upper, "EUR") || strings.Contains(text, "€"):
		return "EUR"
	case strings.Contains(upper, "GBP") || strings.Contains(text, "£"):
		return "GBP"
	default:
		return constants.DefaultCurrency
	}
}

// allocateEvenly fills in missing line amounts by splitting the payment
// total across the invoice lines, the way the source system did when a
// layout lists invoice numbers without per-line amounts.
func allocateEvenly(total decimal.Decimal, lines []entity.InvoiceLine) {
	if len(lines) == 0 {
		return
	}
	allZero := true
	for _, l := range lines {
		if !l.Amount.IsZero() {
			allZero = false
			break
		}
	}
	if !allZero {
		return
	}
	per := total.DivRound(decimal.NewFromInt(int64(len(lines))), 2)
	for i := range lines {
		lines[i].Amount = per
	}
	// Keep the allocation exact: park the rounding remainder on the last line.
	if n := len(lines); n > 0 {
		sumOthers := per.Mul(decimal.NewFromInt(int64(n - 1)))
		lines[n-1].Amount = total.Sub(sumOthers)
	}
}

package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentAdvice is the normalized output of any parser. Parsers return a
// finished value; it is never mutated after construction and never reused
// across documents.
type PaymentAdvice struct {
	ID                   uuid.UUID
	CustomerName         string
	PaymentDocumentNo    string
	PaymentDate          *time.Time
	BankReferenceNo      string
	UTRRRNNo             string // primary dedup key when present
	PaymentAmount        decimal.Decimal
	BeneficiaryName      string
	BeneficiaryAccountNo string
	BankName             string
	Currency             string
	Remarks              string
	Invoices             []InvoiceLine

	// Audit trail.
	RawText      string
	ParserUsed   string
	ParseVersion string
	SourceFormat string
	CreatedAt    time.Time
}

// InvoiceLine is one invoice allocation within a payment advice.
type InvoiceLine struct {
	InvoiceNo   string
	InvoiceDate *time.Time
	Amount      decimal.Decimal
	TDS         decimal.Decimal
	Deductions  decimal.Decimal
}

// DedupKey returns the key used for duplicate detection: the UTR/RRN when
// present, else the bank reference number, else "".
func (a *PaymentAdvice) DedupKey() string {
	if a.UTRRRNNo != "" {
		return a.UTRRRNNo
	}
	return a.BankReferenceNo
}

// LinesTotal sums the invoice line allocations.
func (a *PaymentAdvice) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range a.Invoices {
		total = total.Add(l.Amount)
	}
	return total
}

// LinesSumMatches reports whether the line allocations sum to the payment
// amount within the given tolerance. Only meaningful when lines exist.
func (a *PaymentAdvice) LinesSumMatches(tolerance decimal.Decimal) bool {
	if len(a.Invoices) == 0 {
		return true
	}
	diff := a.LinesTotal().Sub(a.PaymentAmount).Abs()
	return diff.LessThanOrEqual(tolerance)
}

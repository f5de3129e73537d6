package parser

import (
	"regexp"
	"strings"

	"github.com/ntrivedi/adviceparser/internal/entity"
	"github.com/ntrivedi/adviceparser/internal/normalize"
)

// GenericParser is the customer-agnostic fallback. It leans on loose label
// matching and is expected to find fewer fields than a dedicated strategy;
// what it must never do is fail. "No data found" is a valid result, distinct
// from an extraction error, so total misses come back as an advice with
// empty optional fields.
type GenericParser struct{}

func (GenericParser) Name() string { return "GenericParser" }

var (
	genDocNoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:Document|Advice|Payment)\s+No[.:]?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)No[.:]\s*([A-Z0-9]{8,})`),
	}
	genDatePattern    = regexp.MustCompile(`(?i)(?:Payment\s+Date|Value\s+Date|Date)[.:]?\s*(\d{1,2}[./\-]\d{1,2}[./\-]\d{2,4})`)
	genRefPattern     = regexp.MustCompile(`(?i)(?:Ref|Reference)\s+No[.:]?\s*([A-Z0-9\-]+)`)
	genUTRPatterns    = []*regexp.Regexp{
		regexp.MustCompile(`(?i)UTR[/:.]?\s*(?:RRN)?\s*(?:no)?[.:]?\s*([A-Z0-9\-]{6,30})`),
		regexp.MustCompile(`(?i)RRN[.:]?\s*([A-Z0-9\-]{6,30})`),
	}
	genInvoicePattern = regexp.MustCompile(`(?i)Invoice\s+No[.:]?\s*([A-Z0-9\-/]+)`)
	genAmountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[₹$€£]\s*([\d,]+\.?\d*)`),
		regexp.MustCompile(`(?i)Amount[.:]?\s*[₹$€£]?\s*([\d,]+\.?\d*)`),
	}
	genBeneficiaryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Beneficiary[.:]?\s*([^\n]+)`),
		regexp.MustCompile(`(?i)Payee[.:]?\s*([^\n]+)`),
	}
	genAccountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Account\s+No[.:]?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)A/c\s+No[.:]?\s*([A-Z0-9\-]+)`),
	}
)

func (p GenericParser) Parse(req Request) (*entity.PaymentAdvice, error) {
	text := req.RawText
	customer := req.CustomerName
	if customer == "" {
		customer = "Unknown"
	}

	adv := &entity.PaymentAdvice{
		CustomerName:         customer,
		PaymentDocumentNo:    firstMatch(text, genDocNoPatterns),
		BankReferenceNo:      normalize.ByPattern(text, genRefPattern),
		UTRRRNNo:             firstMatch(text, genUTRPatterns),
		PaymentAmount:        largestAmount(text, genAmountPatterns),
		BeneficiaryName:      p.extractBeneficiary(text),
		BeneficiaryAccountNo: firstMatch(text, genAccountPatterns),
		Currency:             detectCurrency(text),
		Invoices:             p.extractInvoices(text),
		RawText:              text,
		ParserUsed:           p.Name(),
		ParseVersion:         parseVersion,
		SourceFormat:         req.SourceFormat,
	}

	if m := genDatePattern.FindStringSubmatch(text); m != nil {
		if t, ok := normalize.Date(m[1]); ok {
			adv.PaymentDate = &t
		}
	}

	allocateEvenly(adv.PaymentAmount, adv.Invoices)
	return adv, nil
}

func (p GenericParser) extractBeneficiary(text string) string {
	for _, re := range genBeneficiaryPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if name := normalize.CollapseSpaces(m[1]); len(name) >= 3 {
				return name
			}
		}
	}
	return ""
}

func (p GenericParser) extractInvoices(text string) []entity.InvoiceLine {
	var lines []entity.InvoiceLine
	seen := map[string]struct{}{}
	for _, m := range genInvoicePattern.FindAllStringSubmatch(text, -1) {
		inv := strings.TrimSpace(m[1])
		if inv == "" {
			continue
		}
		if _, dup := seen[inv]; dup {
			continue
		}
		seen[inv] = struct{}{}
		lines = append(lines, entity.InvoiceLine{InvoiceNo: inv})
	}
	return lines
}

func firstMatch(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ntrivedi/adviceparser/constants"
	"github.com/ntrivedi/adviceparser/internal/entity"
	"github.com/ntrivedi/adviceparser/internal/normalize"
)

// HindustanZincParser handles the Hindustan Zinc payment advice layout:
// a "PAYMENT ADVICE" header block, label:value pairs that sometimes wrap
// onto the next line, and a two-line-per-row invoice table.
type HindustanZincParser struct{}

func (HindustanZincParser) Name() string { return "HindustanZincParser" }

var (
	hzlDocNoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)Payment\s+Doc\s+No[.:]?\s*:?\s*\n\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)Payment\s+Document\s+No[.:]?\s*:?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)Payment\s+Advice\s+No[.:]?\s*:?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)Advice\s+No[.:]?\s*:?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)Document\s+No[.:]?\s*:?\s*([A-Z0-9\-]+)`),
	}
	hzlDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Payment\s+Date[.:]?\s*(\d{1,2}[./\-]\d{1,2}[./\-]\d{2,4})`),
		regexp.MustCompile(`(?i)Date\s+of\s+Payment[.:]?\s*(\d{1,2}[./\-]\d{1,2}[./\-]\d{2,4})`),
		regexp.MustCompile(`(?i)Date[.:]?\s*(\d{1,2}[./\-]\d{1,2}[./\-]\d{2,4})`),
	}
	hzlBankRefPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Bank\s+Ref\s+No\s*[.:]?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)Bank\s+Reference\s+No[.:]?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)Reference\s+No[.:]?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)Ref\s+No[.:]?\s*([A-Z0-9\-]+)`),
	}
	// Ordered most-specific first; the UTR often appears as
	// "vide UTR/RRN no HDFCR52025120390803069" in the remittance sentence.
	hzlUTRPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)vide\s+UTR\s*/\s*RRN\s+no\s+([A-Z0-9]{10,30})`),
		regexp.MustCompile(`(?i)UTR\s*/\s*RRN\s+no[.:]?\s*([A-Z0-9]{10,30})`),
		regexp.MustCompile(`(?i)UTR\s+No[.:]?\s+([A-Z0-9]{10,30})`),
		regexp.MustCompile(`(?i)RRN\s+No[.:]?\s+([A-Z0-9]{10,30})`),
		regexp.MustCompile(`(?i)UTR[/:]?\s+([A-Z0-9]{6,30})`),
		regexp.MustCompile(`(?i)RRN[/:]?\s+([A-Z0-9]{6,30})`),
		regexp.MustCompile(`(?im)UTR[/:]?\s*\n\s*([A-Z0-9]{10,30})`),
	}
	hzlBankUTRFallback = regexp.MustCompile(`\b([A-Z]{3,}[0-9]{10,})\b`)

	hzlAmountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Payment\s+Amount[.:]?\s*[₹]?\s*([\d,]+\.?\d*)`),
		regexp.MustCompile(`(?i)Total\s+Amount[.:]?\s*[₹]?\s*([\d,]+\.?\d*)`),
		regexp.MustCompile(`(?i)Amount[.:]?\s*[₹]?\s*([\d,]+\.?\d*)`),
		regexp.MustCompile(`[₹]\s*([\d,]+\.?\d*)`),
	}
	hzlBeneficiaryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)Beneficiary\s+Name[.:]?\s*:?\s*\n\s*([^\n]+)`),
		regexp.MustCompile(`(?i)Beneficiary\s+Name[.:]?\s*:?\s*([^\n]+)`),
		regexp.MustCompile(`(?i)Payee\s+Name[.:]?\s*:?\s*([^\n]+)`),
	}
	hzlAccountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)Beneficiary\s+Account\s+No[.:]?\s*:?\s*\n\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)Beneficiary\s+Account\s+No[.:]?\s*:?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)Beneficiary\s+A/c\s+No[.:]?\s*:?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)Account\s+No[.:]?\s*:?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)A/c\s+No[.:]?\s*:?\s*([A-Z0-9\-]+)`),
	}

	// Invoice table: header row, underscore rule, then two physical lines
	// per invoice (number/date/deductions, then the remaining columns).
	hzlTablePattern = regexp.MustCompile(`(?is)Invoice\s+Number.*?Invoice\s+date.*?_{10,}.*?\n(.*?)(?:\n_{10,}|\n\n|$)`)
	hzlRowLine1     = regexp.MustCompile(`^([A-Z0-9\-]+)\s+(\d{1,2}[./\-]\d{1,2}[./\-]\d{2,4})\s+([\d,]+\.?\d*)\s+([\d,]+\.?\d*)`)
	hzlRowLine2     = regexp.MustCompile(`^([\d,]+\.?\d*)\s+([\d,]+\.?\d*)\s+([\d,]+\.?\d*)\s+([\d,]+\.?\d*)`)
	hzlInvFallback  = regexp.MustCompile(`(?i)Invoice\s+(?:Number|No)[.:]?\s*([A-Z0-9\-/]+)`)
)

func (p HindustanZincParser) Parse(req Request) (*entity.PaymentAdvice, error) {
	text := req.RawText
	customer := req.CustomerName
	if customer == "" {
		customer = "Hindustan Zinc India Ltd"
	}

	adv := &entity.PaymentAdvice{
		CustomerName:         customer,
		PaymentDocumentNo:    firstBounded(text, hzlDocNoPatterns, 6, 20),
		PaymentDate:          firstDate(text, hzlDatePatterns),
		BankReferenceNo:      firstBounded(text, hzlBankRefPatterns, 6, 20),
		UTRRRNNo:             p.extractUTR(text),
		PaymentAmount:        largestAmount(text, hzlAmountPatterns),
		BeneficiaryName:      p.extractBeneficiary(text),
		BeneficiaryAccountNo: firstBounded(text, hzlAccountPatterns, 9, 20),
		BankName:             p.extractBankName(text),
		Currency:             detectCurrency(text),
		Remarks:              p.extractRemarks(text),
		Invoices:             p.extractInvoiceTable(text),
		RawText:              text,
		ParserUsed:           p.Name(),
		ParseVersion:         parseVersion,
		SourceFormat:         constants.PDF,
	}
	if adv.PaymentDate == nil {
		adv.PaymentDate = p.dateNearHeader(text)
	}
	allocateEvenly(adv.PaymentAmount, adv.Invoices)
	return adv, nil
}

func (p HindustanZincParser) extractUTR(text string) string {
	for _, re := range hzlUTRPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			utr := strings.TrimSpace(m[1])
			switch strings.ToLower(utr) {
			case "no", "yes", "na", "n/a", "not":
				continue
			}
			if len(utr) >= 6 && len(utr) <= 30 {
				return utr
			}
		}
	}
	// Bank-prefixed identifiers near a UTR/RRN mention.
	for _, m := range hzlBankUTRFallback.FindAllString(text, -1) {
		pos := strings.Index(text, m)
		if pos < 0 || len(m) < 10 || len(m) > 30 {
			continue
		}
		lo := max(0, pos-100)
		hi := min(len(text), pos+len(m)+100)
		if regexp.MustCompile(`(?i)UTR|RRN`).MatchString(text[lo:hi]) {
			return m
		}
	}
	return ""
}

var paymentAdviceHeader = regexp.MustCompile(`(?i)PAYMENT\s+ADVICE`)

// dateNearHeader scans the 500 characters after the PAYMENT ADVICE header
// for any date, used when no labelled payment date exists.
func (p HindustanZincParser) dateNearHeader(text string) *time.Time {
	loc := paymentAdviceHeader.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	window := text[loc[1]:min(len(text), loc[1]+500)]
	if m := datefinder.FindString(window); m != "" {
		if t, ok := normalize.Date(m); ok {
			return &t
		}
	}
	return nil
}

var datefinder = regexp.MustCompile(`\d{1,2}[./\-]\d{1,2}[./\-]\d{2,4}`)

func (p HindustanZincParser) extractBeneficiary(text string) string {
	for _, re := range hzlBeneficiaryPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			name := normalize.CollapseSpaces(m[1])
			if len(name) >= 3 {
				return name
			}
		}
	}
	return ""
}

func (p HindustanZincParser) extractBankName(text string) string {
	for _, kw := range []string{"Bank Name", "Beneficiary Bank"} {
		if v := normalize.ByKeyword(text, kw); v != "" {
			return normalize.CollapseSpaces(v)
		}
	}
	return ""
}

func (p HindustanZincParser) extractRemarks(text string) string {
	for _, kw := range []string{"Remarks", "Notes", "Description"} {
		if v := normalize.ByKeyword(text, kw); v != "" {
			return v
		}
	}
	return ""
}

func (p HindustanZincParser) extractInvoiceTable(text string) []entity.InvoiceLine {
	var lines []entity.InvoiceLine

	if m := hzlTablePattern.FindStringSubmatch(text); m != nil {
		var rows []string
		for _, l := range strings.Split(m[1], "\n") {
			if l = strings.TrimSpace(l); l != "" {
				rows = append(rows, l)
			}
		}
		for i := 0; i < len(rows); {
			m1 := hzlRowLine1.FindStringSubmatch(rows[i])
			if m1 == nil {
				i++
				continue
			}
			line := entity.InvoiceLine{InvoiceNo: m1[1]}
			if t, ok := normalize.Date(m1[2]); ok {
				line.InvoiceDate = &t
			}
			if d, ok := normalize.Amount(m1[3]); ok {
				line.TDS = d
			}
			if d, ok := normalize.Amount(m1[4]); ok {
				line.Deductions = d
			}
			if i+1 < len(rows) {
				if m2 := hzlRowLine2.FindStringSubmatch(rows[i+1]); m2 != nil {
					for _, cell := range m2[1:] {
						if d, ok := normalize.Amount(cell); ok {
							line.Deductions = line.Deductions.Add(d)
						}
					}
					i += 2
				} else {
					i++
				}
			} else {
				i++
			}
			if len(line.InvoiceNo) >= 3 {
				lines = append(lines, line)
			}
		}
	}

	if len(lines) == 0 {
		seen := map[string]struct{}{}
		for _, m := range hzlInvFallback.FindAllStringSubmatch(text, -1) {
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
	}
	return lines
}

// firstBounded returns the first pattern match whose length is inside the
// given bounds, guarding against false positives on short tokens.
func firstBounded(text string, patterns []*regexp.Regexp, minLen, maxLen int) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			v := strings.TrimSpace(m[1])
			if len(v) >= minLen && len(v) <= maxLen {
				return v
			}
		}
	}
	return ""
}

func firstDate(text string, patterns []*regexp.Regexp) *time.Time {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if t, ok := normalize.Date(m[1]); ok {
				return &t
			}
		}
	}
	return nil
}

// largestAmount takes the biggest match across the patterns; the payment
// total is reliably the largest figure on an advice.
func largestAmount(text string, patterns []*regexp.Regexp) decimal.Decimal {
	best := decimal.Zero
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if d, ok := normalize.Amount(m[1]); ok && d.GreaterThan(best) {
				best = d
			}
		}
	}
	return best
}

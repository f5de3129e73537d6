package pipeline

import (
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ntrivedi/adviceparser/internal/entity"
	"github.com/ntrivedi/adviceparser/internal/normalize"
)

// adviceSchema is the contract every parser output must satisfy before it
// is persisted. Amounts travel as decimal strings to avoid float drift.
const adviceSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["customer_name", "payment_amount", "currency", "parser_used"],
  "properties": {
    "customer_name":          {"type": "string"},
    "payment_document_no":    {"type": "string"},
    "payment_date":           {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "bank_reference_no":      {"type": "string"},
    "utr_rrn_no":             {"type": "string", "maxLength": 64},
    "payment_amount":         {"type": "string", "pattern": "^-?\\d+(\\.\\d+)?$"},
    "beneficiary_name":       {"type": "string"},
    "beneficiary_account_no": {"type": "string"},
    "bank_name":              {"type": "string"},
    "currency":               {"type": "string", "minLength": 3, "maxLength": 3},
    "remarks":                {"type": "string"},
    "parser_used":            {"type": "string", "minLength": 1},
    "parse_version":          {"type": "string"},
    "source_format":          {"type": "string"},
    "invoices": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["invoice_no", "amount"],
        "properties": {
          "invoice_no":   {"type": "string", "minLength": 1},
          "invoice_date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
          "amount":       {"type": "string", "pattern": "^-?\\d+(\\.\\d+)?$"},
          "tds":          {"type": "string", "pattern": "^-?\\d+(\\.\\d+)?$"},
          "deductions":   {"type": "string", "pattern": "^-?\\d+(\\.\\d+)?$"}
        }
      }
    }
  }
}`

var compiledAdviceSchema = jsonschema.MustCompileString("payment_advice.json", adviceSchema)

// ValidateAdvice checks a parsed advice against the persistence contract.
func ValidateAdvice(adv *entity.PaymentAdvice) error {
	doc := adviceDocument(adv)
	if err := compiledAdviceSchema.Validate(doc); err != nil {
		return fmt.Errorf("advice validation: %w", err)
	}
	return nil
}

func adviceDocument(adv *entity.PaymentAdvice) map[string]any {
	doc := map[string]any{
		"customer_name":          adv.CustomerName,
		"payment_document_no":    adv.PaymentDocumentNo,
		"payment_date":           dateOrNil(adv.PaymentDate),
		"bank_reference_no":      adv.BankReferenceNo,
		"utr_rrn_no":             adv.UTRRRNNo,
		"payment_amount":         adv.PaymentAmount.String(),
		"beneficiary_name":       adv.BeneficiaryName,
		"beneficiary_account_no": adv.BeneficiaryAccountNo,
		"bank_name":              adv.BankName,
		"currency":               adv.Currency,
		"remarks":                adv.Remarks,
		"parser_used":            adv.ParserUsed,
		"parse_version":          adv.ParseVersion,
		"source_format":          adv.SourceFormat,
	}
	lines := make([]any, 0, len(adv.Invoices))
	for _, l := range adv.Invoices {
		lines = append(lines, map[string]any{
			"invoice_no":   l.InvoiceNo,
			"invoice_date": dateOrNil(l.InvoiceDate),
			"amount":       l.Amount.String(),
			"tds":          l.TDS.String(),
			"deductions":   l.Deductions.String(),
		})
	}
	doc["invoices"] = lines
	return doc
}

func dateOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return normalize.FormatDate(*t)
}

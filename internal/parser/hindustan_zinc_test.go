package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntrivedi/adviceparser/constants"
)

const hzlAdviceText = `HINDUSTAN ZINC LIMITED
PAYMENT ADVICE

Payment Document No: 2001234567
Payment Date: 15.08.2024
Bank Ref No: AXISC12345678
We have remitted the amount vide UTR/RRN no HDFCR52025120390803069
Payment Amount: 1,50,000.00
Beneficiary Name: Acme Industrial Supplies Pvt Ltd
Beneficiary Account No: 912020041234567
Bank Name: HDFC Bank
Remarks: Supply of zinc ingot consumables
`

func TestHindustanZincParse(t *testing.T) {
	p := HindustanZincParser{}
	adv, err := p.Parse(Request{
		DocumentRef:  "hzl-advice.pdf",
		RawText:      hzlAdviceText,
		CustomerName: "Hindustan Zinc India Ltd",
		SourceFormat: constants.PDF,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hindustan Zinc India Ltd", adv.CustomerName)
	assert.Equal(t, "2001234567", adv.PaymentDocumentNo)
	require.NotNil(t, adv.PaymentDate)
	assert.Equal(t, "2024-08-15", adv.PaymentDate.Format("2006-01-02"))
	assert.Equal(t, "AXISC12345678", adv.BankReferenceNo)
	assert.Equal(t, "HDFCR52025120390803069", adv.UTRRRNNo)
	assert.True(t, decimal.RequireFromString("150000").Equal(adv.PaymentAmount), "amount = %s", adv.PaymentAmount)
	assert.Equal(t, "Acme Industrial Supplies Pvt Ltd", adv.BeneficiaryName)
	assert.Equal(t, "912020041234567", adv.BeneficiaryAccountNo)
	assert.Equal(t, "HDFC Bank", adv.BankName)
	assert.Equal(t, "INR", adv.Currency)
	assert.Equal(t, "HindustanZincParser", adv.ParserUsed)
}

func TestHindustanZincInvoiceTable(t *testing.T) {
	text := hzlAdviceText + `
Invoice Number    Invoice date    TDS         Deductions
____________________
INV-2024-001   01.07.2024   1,000.00   500.00
INV-2024-002   15.07.2024   2,000.00   0.00
____________________
`
	adv, err := HindustanZincParser{}.Parse(Request{RawText: text, SourceFormat: constants.PDF})
	require.NoError(t, err)
	require.Len(t, adv.Invoices, 2)

	assert.Equal(t, "INV-2024-001", adv.Invoices[0].InvoiceNo)
	require.NotNil(t, adv.Invoices[0].InvoiceDate)
	assert.Equal(t, "2024-07-01", adv.Invoices[0].InvoiceDate.Format("2006-01-02"))
	assert.True(t, decimal.RequireFromString("1000").Equal(adv.Invoices[0].TDS))
	assert.Equal(t, "INV-2024-002", adv.Invoices[1].InvoiceNo)

	// Even allocation across lines that carried no explicit amount.
	assert.True(t, decimal.RequireFromString("75000").Equal(adv.Invoices[0].Amount), "allocated = %s", adv.Invoices[0].Amount)
	assert.True(t, decimal.RequireFromString("75000").Equal(adv.Invoices[1].Amount))
}

func TestHindustanZincUTRVariants(t *testing.T) {
	cases := map[string]string{
		"vide UTR/RRN no HDFCR52025120390803069": "HDFCR52025120390803069",
		"UTR No. SBIN524123456789":               "SBIN524123456789",
		"UTR: ABC123456":                         "ABC123456",
		"RRN: 429815012345":                      "429815012345",
	}
	for text, want := range cases {
		adv, err := HindustanZincParser{}.Parse(Request{RawText: text})
		require.NoError(t, err)
		assert.Equal(t, want, adv.UTRRRNNo, "text %q", text)
	}
}

func TestHindustanZincDateNearHeader(t *testing.T) {
	text := "PAYMENT ADVICE\nGenerated on 03/06/2024 for your reference\nAmount: 500.00"
	adv, err := HindustanZincParser{}.Parse(Request{RawText: text})
	require.NoError(t, err)
	require.NotNil(t, adv.PaymentDate)
	assert.Equal(t, "2024-06-03", adv.PaymentDate.Format("2006-01-02"))
}

func TestHindustanZincDefaultsCustomer(t *testing.T) {
	adv, err := HindustanZincParser{}.Parse(Request{RawText: "HZL advice"})
	require.NoError(t, err)
	assert.Equal(t, "Hindustan Zinc India Ltd", adv.CustomerName)
}

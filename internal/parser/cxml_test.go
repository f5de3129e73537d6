package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntrivedi/adviceparser/constants"
)

const sampleCXML = `<?xml version="1.0" encoding="UTF-8"?>
<cXML payloadID="remit-1" timestamp="2024-08-15T10:30:00+05:30">
  <Request>
    <PaymentRemittanceRequest>
      <PaymentRemittanceRequestHeader paymentRemittanceID="REMIT-981245"
          paymentReferenceNumber="HDFC-REF-5521"
          paymentDate="2024-08-15T00:00:00+05:30">
        <Contact role="payer"><Name xml:lang="en">Vedanta Aluminium Ltd</Name></Contact>
        <Contact role="payee"><Name xml:lang="en">Acme Industrial Supplies</Name></Contact>
        <Extrinsic name="UTR Number">HDFCR52025120390803069</Extrinsic>
      </PaymentRemittanceRequestHeader>
      <RemittanceDetail>
        <InvoiceIDInfo invoiceID="INV-2024-501"/>
        <GrossAmount><Money currency="INR">10000.00</Money></GrossAmount>
        <NetAmount><Money currency="INR">9000.00</Money></NetAmount>
        <AdditionalDeduction deductionType="tds">
          <Money currency="INR">800.00</Money>
        </AdditionalDeduction>
      </RemittanceDetail>
      <RemittanceDetail>
        <InvoiceIDInfo invoiceID="INV-2024-502"/>
        <GrossAmount><Money currency="INR">5000.00</Money></GrossAmount>
        <NetAmount><Money currency="INR">5000.00</Money></NetAmount>
      </RemittanceDetail>
      <PaymentRemittanceSummary>
        <NetAmount><Money currency="INR">14000.00</Money></NetAmount>
      </PaymentRemittanceSummary>
    </PaymentRemittanceRequest>
  </Request>
</cXML>`

func TestCXMLParse(t *testing.T) {
	adv, err := CXMLRemittanceParser{}.Parse(Request{
		DocumentRef:  "remit.xml",
		RawText:      sampleCXML,
		SourceFormat: constants.XML,
	})
	require.NoError(t, err)

	assert.Equal(t, "Vedanta Aluminium Ltd", adv.CustomerName)
	assert.Equal(t, "REMIT-981245", adv.PaymentDocumentNo)
	assert.Equal(t, "HDFC-REF-5521", adv.BankReferenceNo)
	require.NotNil(t, adv.PaymentDate)
	assert.Equal(t, "2024-08-15", adv.PaymentDate.Format("2006-01-02"))
	assert.Equal(t, "HDFCR52025120390803069", adv.UTRRRNNo)
	assert.Equal(t, "Acme Industrial Supplies", adv.BeneficiaryName)
	assert.True(t, decimal.RequireFromString("14000").Equal(adv.PaymentAmount), "amount = %s", adv.PaymentAmount)
	assert.Equal(t, "INR", adv.Currency)
	assert.Equal(t, "CXMLRemittanceParser", adv.ParserUsed)

	require.Len(t, adv.Invoices, 2)
	first := adv.Invoices[0]
	assert.Equal(t, "INV-2024-501", first.InvoiceNo)
	assert.True(t, decimal.RequireFromString("9000").Equal(first.Amount))
	assert.True(t, decimal.RequireFromString("800").Equal(first.TDS))
	// Gross minus net minus named deductions leaves retention withholding.
	assert.True(t, decimal.RequireFromString("200").Equal(first.Deductions), "deductions = %s", first.Deductions)

	second := adv.Invoices[1]
	assert.Equal(t, "INV-2024-502", second.InvoiceNo)
	assert.True(t, decimal.RequireFromString("5000").Equal(second.Amount))
	assert.True(t, second.Deductions.IsZero())
}

func TestCXMLExplicitCustomerWins(t *testing.T) {
	adv, err := CXMLRemittanceParser{}.Parse(Request{
		RawText:      sampleCXML,
		CustomerName: "Vedanta",
		SourceFormat: constants.XML,
	})
	require.NoError(t, err)
	assert.Equal(t, "Vedanta", adv.CustomerName)
}

func TestCXMLInvalidPayload(t *testing.T) {
	_, err := CXMLRemittanceParser{}.Parse(Request{RawText: "this is not xml"})
	require.Error(t, err)

	_, err = CXMLRemittanceParser{}.Parse(Request{RawText: "<cXML><Request/></cXML>"})
	require.Error(t, err, "missing PaymentRemittanceRequest element")
}

package parser

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ntrivedi/adviceparser/constants"
	"github.com/ntrivedi/adviceparser/internal/entity"
	"github.com/ntrivedi/adviceparser/internal/normalize"
)

// CXMLRemittanceParser handles Ariba-style cXML PaymentRemittanceRequest
// documents. Element matching is done on local names only, so namespaced
// and non-namespaced payloads parse the same way.
type CXMLRemittanceParser struct{}

func (CXMLRemittanceParser) Name() string { return "CXMLRemittanceParser" }

// xmlNode is a minimal generic element tree; cXML remittances are small
// enough that materializing the whole document is fine.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []xmlNode  `xml:",any"`
	Text     string     `xml:",chardata"`
}

func (n *xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// findFirst walks the subtree depth-first for the first element whose local
// name matches.
func (n *xmlNode) findFirst(local string) *xmlNode {
	for i := range n.Children {
		c := &n.Children[i]
		if c.XMLName.Local == local {
			return c
		}
		if found := c.findFirst(local); found != nil {
			return found
		}
	}
	return nil
}

func (n *xmlNode) findAll(local string, out *[]*xmlNode) {
	for i := range n.Children {
		c := &n.Children[i]
		if c.XMLName.Local == local {
			*out = append(*out, c)
		}
		c.findAll(local, out)
	}
}

func (n *xmlNode) text() string {
	return strings.TrimSpace(n.Text)
}

func moneyAmount(parent *xmlNode) (decimal.Decimal, string) {
	if parent == nil {
		return decimal.Zero, ""
	}
	money := parent.findFirst("Money")
	if money == nil {
		return decimal.Zero, ""
	}
	d, err := decimal.NewFromString(money.text())
	if err != nil {
		return decimal.Zero, money.attr("currency")
	}
	return d, money.attr("currency")
}

func (p CXMLRemittanceParser) Parse(req Request) (*entity.PaymentAdvice, error) {
	var root xmlNode
	if err := xml.Unmarshal([]byte(req.RawText), &root); err != nil {
		return nil, fmt.Errorf("invalid cxml payload: %w", err)
	}

	remReq := &root
	if root.XMLName.Local != "PaymentRemittanceRequest" {
		if remReq = root.findFirst("PaymentRemittanceRequest"); remReq == nil {
			return nil, fmt.Errorf("PaymentRemittanceRequest element not found in cxml")
		}
	}

	adv := &entity.PaymentAdvice{
		CustomerName: req.CustomerName,
		Currency:     constants.DefaultCurrency,
		RawText:      req.RawText,
		ParserUsed:   p.Name(),
		ParseVersion: parseVersion,
		SourceFormat: constants.XML,
	}

	if hdr := remReq.findFirst("PaymentRemittanceRequestHeader"); hdr != nil {
		adv.PaymentDocumentNo = hdr.attr("paymentRemittanceID")
		adv.BankReferenceNo = hdr.attr("paymentReferenceNumber")
		if raw := hdr.attr("paymentDate"); raw != "" {
			// cXML carries timestamps; only the date part is kept.
			datePart, _, _ := strings.Cut(raw, "T")
			if t, ok := normalize.Date(datePart); ok {
				adv.PaymentDate = &t
			}
		}

		var extrinsics []*xmlNode
		hdr.findAll("Extrinsic", &extrinsics)
		for _, ex := range extrinsics {
			if strings.Contains(strings.ToUpper(ex.attr("name")), "UTR") && ex.text() != "" {
				adv.UTRRRNNo = ex.text()
				break
			}
		}

		var payerName string
		var contacts []*xmlNode
		hdr.findAll("Contact", &contacts)
		for _, c := range contacts {
			nameEl := c.findFirst("Name")
			if nameEl == nil || nameEl.text() == "" {
				continue
			}
			switch strings.ToLower(c.attr("role")) {
			case "payer":
				payerName = nameEl.text()
			case "payee":
				adv.BeneficiaryName = nameEl.text()
			}
		}
		if adv.CustomerName == "" {
			adv.CustomerName = payerName
		}
		if adv.CustomerName == "" {
			adv.CustomerName = adv.BeneficiaryName
		}
	}

	if summary := remReq.findFirst("PaymentRemittanceSummary"); summary != nil {
		net, currency := moneyAmount(summary.findFirst("NetAmount"))
		adv.PaymentAmount = net
		if currency != "" {
			adv.Currency = currency
		}
	}

	var details []*xmlNode
	remReq.findAll("RemittanceDetail", &details)
	for _, rd := range details {
		line := entity.InvoiceLine{}
		if inv := rd.findFirst("InvoiceIDInfo"); inv != nil {
			line.InvoiceNo = inv.attr("invoiceID")
			if line.InvoiceNo == "" {
				line.InvoiceNo = inv.text()
			}
		}
		if line.InvoiceNo == "" {
			continue
		}
		gross, _ := moneyAmount(rd.findFirst("GrossAmount"))
		net, _ := moneyAmount(rd.findFirst("NetAmount"))
		line.Amount = net

		var deductions []*xmlNode
		rd.findAll("AdditionalDeduction", &deductions)
		for _, d := range deductions {
			amt, _ := moneyAmount(d)
			line.TDS = line.TDS.Add(amt)
		}
		adj, _ := moneyAmount(rd.findFirst("AdjustmentAmount"))

		// Residual between gross and net beyond named deductions is
		// security/retention style withholding.
		if gross.IsPositive() && net.IsPositive() {
			residual := gross.Sub(net).Sub(line.TDS).Sub(adj)
			if residual.IsPositive() {
				line.Deductions = residual
			}
		}
		adv.Invoices = append(adv.Invoices, line)
	}

	if adv.CustomerName == "" {
		adv.CustomerName = "Unknown"
	}
	return adv, nil
}

package entity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ntrivedi/adviceparser/constants"
)

func TestReduceBatchStatus(t *testing.T) {
	p := constants.ItemPending
	r := constants.ItemRunning
	s := constants.ItemSuccess
	f := constants.ItemFailed

	cases := []struct {
		name  string
		items []constants.ItemStatus
		want  constants.BatchStatus
	}{
		{"empty", nil, constants.BatchQueued},
		{"all pending", []constants.ItemStatus{p, p, p}, constants.BatchQueued},
		{"one running", []constants.ItemStatus{p, r, p}, constants.BatchProcessing},
		{"partly terminal", []constants.ItemStatus{s, r, p}, constants.BatchProcessing},
		{"all success", []constants.ItemStatus{s, s, s}, constants.BatchCompleted},
		{"all failed", []constants.ItemStatus{f, f}, constants.BatchFailed},
		{"mixed terminal", []constants.ItemStatus{s, f, s}, constants.BatchPartial},
		{"single success", []constants.ItemStatus{s}, constants.BatchCompleted},
		{"single failed", []constants.ItemStatus{f}, constants.BatchFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ReduceBatchStatus(tc.items))
		})
	}
}

func TestReduceBatchStatusOrderIndependent(t *testing.T) {
	a := []constants.ItemStatus{constants.ItemSuccess, constants.ItemFailed, constants.ItemSuccess}
	b := []constants.ItemStatus{constants.ItemFailed, constants.ItemSuccess, constants.ItemSuccess}
	assert.Equal(t, ReduceBatchStatus(a), ReduceBatchStatus(b))
}

func TestDedupKeyPrefersUTR(t *testing.T) {
	adv := &PaymentAdvice{UTRRRNNo: "SBIN5241234", BankReferenceNo: "REF-1"}
	assert.Equal(t, "SBIN5241234", adv.DedupKey())

	adv.UTRRRNNo = ""
	assert.Equal(t, "REF-1", adv.DedupKey())

	adv.BankReferenceNo = ""
	assert.Equal(t, "", adv.DedupKey())
}

func TestLinesSumMatches(t *testing.T) {
	adv := &PaymentAdvice{
		PaymentAmount: decimal.RequireFromString("150000.00"),
		Invoices: []InvoiceLine{
			{InvoiceNo: "INV-1", Amount: decimal.RequireFromString("100000.00")},
			{InvoiceNo: "INV-2", Amount: decimal.RequireFromString("50000.00")},
		},
	}
	tol := decimal.RequireFromString("0.01")
	assert.True(t, adv.LinesSumMatches(tol))

	adv.Invoices[1].Amount = decimal.RequireFromString("49999.00")
	assert.False(t, adv.LinesSumMatches(tol))

	adv.Invoices = nil
	assert.True(t, adv.LinesSumMatches(tol), "no lines means nothing to reconcile")
}

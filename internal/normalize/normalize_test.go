package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateFormats(t *testing.T) {
	want := time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC)

	cases := []string{
		"07.03.2024",
		"07/03/2024",
		"07-03-2024",
		"7.3.2024",
		"7/3/2024",
		"7-3-2024",
		"07.03.24",
		"07/03/24",
		"07-03-24",
		"2024-03-07",
	}
	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			got, ok := Date(in)
			require.True(t, ok, "Date(%q)", in)
			assert.True(t, want.Equal(got), "Date(%q) = %v", in, got)
		})
	}
}

func TestDateRoundTrip(t *testing.T) {
	for _, in := range []string{"15.08.2024", "15/08/2024", "15-08-2024"} {
		got, ok := Date(in)
		require.True(t, ok)
		assert.Equal(t, "2024-08-15", FormatDate(got))
	}
}

func TestDateSalvagesEmbeddedDate(t *testing.T) {
	got, ok := Date("value dated 21/06/2024 by RTGS")
	require.True(t, ok)
	assert.Equal(t, "2024-06-21", FormatDate(got))
}

func TestDateRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "not a date", "99/99/9999"} {
		_, ok := Date(in)
		assert.False(t, ok, "Date(%q)", in)
	}
}

func TestAmount(t *testing.T) {
	cases := map[string]string{
		"1,50,000.00":  "150000",     // Indian grouping
		"1,234,567.89": "1234567.89", // western grouping
		"₹ 2,500.50":   "2500.5",
		"$1200":        "1200",
		"0.01":         "0.01",
		"1500.00":      "1500",
	}
	for in, want := range cases {
		got, ok := Amount(in)
		require.True(t, ok, "Amount(%q)", in)
		assert.True(t, decimal.RequireFromString(want).Equal(got), "Amount(%q) = %s", in, got)
	}
}

func TestAmountRejectsNonNumeric(t *testing.T) {
	for _, in := range []string{"", "NEFT", "--"} {
		_, ok := Amount(in)
		assert.False(t, ok, "Amount(%q)", in)
	}
}

func TestByKeyword(t *testing.T) {
	text := "Payment Doc No: 2001234567\nUTR No : SBIN524123456789\nAmount = 1,50,000.00\n"

	assert.Equal(t, "2001234567", ByKeyword(text, "Payment Doc No"))
	assert.Equal(t, "SBIN524123456789", ByKeyword(text, "UTR No"))
	assert.Equal(t, "1,50,000.00", ByKeyword(text, "Amount"))
	assert.Equal(t, "", ByKeyword(text, "Cheque No"))
}

func TestByKeywordCaseInsensitive(t *testing.T) {
	assert.Equal(t, "XYZ", ByKeyword("beneficiary name: XYZ", "Beneficiary Name"))
}

func TestCollapseSpaces(t *testing.T) {
	assert.Equal(t, "a b c", CollapseSpaces("  a \t b\n c "))
}

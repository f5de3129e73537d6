// Package normalize holds the pure helpers that turn loosely formatted
// substrings from payment advice text into canonical values. Absence of a
// field is an expected outcome here, so every function reports "not found"
// instead of returning an error.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ISODate is the canonical rendering for all normalized dates.
const ISODate = "2006-01-02"

// dateFormats covers day-month-year with '.', '/', '-' separators and
// 2- or 4-digit years, plus the already-canonical form.
var dateFormats = []string{
	"02.01.2006",
	"02/01/2006",
	"02-01-2006",
	"2.1.2006",
	"2/1/2006",
	"2-1-2006",
	"02.01.06",
	"02/01/06",
	"02-01-06",
	"2006-01-02",
}

var datePattern = regexp.MustCompile(`(\d{1,2})[./-](\d{1,2})[./-](\d{2,4})`)

// Date parses a date string in any supported format. The second return is
// false when nothing parseable was found.
func Date(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	// Salvage a date embedded in surrounding junk.
	if m := datePattern.FindStringSubmatch(s); m != nil {
		for _, layout := range []string{"2-1-2006", "2-1-06"} {
			candidate := m[1] + "-" + m[2] + "-" + m[3]
			if t, err := time.Parse(layout, candidate); err == nil {
				return t, true
			}
		}
	}

	return time.Time{}, false
}

// FormatDate renders a date in the canonical ISO form.
func FormatDate(t time.Time) string {
	return t.Format(ISODate)
}

var amountJunk = regexp.MustCompile(`[₹$€£,\s]`)

// Amount parses an amount string, tolerating thousands separators (both
// western and Indian grouping) and optional currency symbols. The second
// return is false when the remainder is not a number.
func Amount(s string) (decimal.Decimal, bool) {
	cleaned := amountJunk.ReplaceAllString(s, "")
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ByKeyword returns the value following a "Keyword : value" label, or ""
// when the keyword does not occur. Matching is case-insensitive and the
// value runs to the end of the line.
func ByKeyword(text, keyword string) string {
	re, err := keywordPattern(keyword)
	if err != nil {
		return ""
	}
	if m := re.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// AllByKeyword returns every value following a "Keyword : value" label, in
// document order.
func AllByKeyword(text, keyword string) []string {
	re, err := keywordPattern(keyword)
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if v := strings.TrimSpace(m[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ByPattern returns the first capture group of a caller-supplied pattern,
// for parsers that need tighter matching than a bare keyword.
func ByPattern(text string, re *regexp.Regexp) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func keywordPattern(keyword string) (*regexp.Regexp, error) {
	// Spaces in the keyword match any run of whitespace in the text.
	escaped := strings.Join(strings.Fields(regexp.QuoteMeta(keyword)), `\s+`)
	return regexp.Compile(`(?i)` + escaped + `\s*[:=]?\s*([^\n\r]+)`)
}

// CollapseSpaces normalizes internal whitespace and trims trailing label
// punctuation, for free-text fields like beneficiary names.
func CollapseSpaces(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".:")
}

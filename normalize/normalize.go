// Package normalize coerces the raw field values returned by the extraction
// model into canonical typed values. Coercion is total: unparseable or missing
// input degrades to an absent field, never to an error, because upstream
// payload quality is inherently unreliable.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Record holds the eleven extracted fields of one bill. A nil pointer means
// the field is absent; absence is never represented by an empty string or
// zero. Dates are canonical YYYY-MM-DD strings.
type Record struct {
	Vendor              *string  `json:"vendor"`
	InvoiceDate         *string  `json:"invoice_date"`
	Total               *float64 `json:"total"`
	AccountNumber       *string  `json:"account_number"`
	BillDate            *string  `json:"bill_date"`
	DueDate             *string  `json:"due_date"`
	ServiceFrom         *string  `json:"service_from"`
	ServiceTo           *string  `json:"service_to"`
	UsageQuantity       *int64   `json:"usage_quantity"`
	TotalCurrentCharges *float64 `json:"total_current_charges"`
	TotalAmountDue      *float64 `json:"total_amount_due"`
}

// dateLayouts are tried in order for the general calendar-date parse.
// Canonical form comes first so canonical input round-trips unchanged.
var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"1-2-2006",
	"1/2/06",
	"2006/1/2",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// monthDay matches a bare "M/D" with no year, e.g. "07/15".
var monthDay = regexp.MustCompile(`^\s*(\d{1,2})/(\d{1,2})\s*$`)

// Normalizer applies the coercion strategies. The OCR substitution table and
// the currency symbol set are configurable because the defaults are heuristic,
// not exhaustive (they mirror what shows up in scanned US utility bills).
type Normalizer struct {
	ocrSubs     map[rune]rune
	currencySym string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithOCRSubstitutions replaces the default letter-for-digit confusion table.
func WithOCRSubstitutions(subs map[rune]rune) Option {
	return func(n *Normalizer) { n.ocrSubs = subs }
}

// WithCurrencySymbols replaces the set of symbols stripped from money values.
func WithCurrencySymbols(syms string) Option {
	return func(n *Normalizer) { n.currencySym = syms }
}

// New returns a Normalizer with the default strategy tables.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		ocrSubs:     map[rune]rune{'O': '0', 'o': '0', 'S': '5'},
		currencySym: "$",
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize builds a Record from a decoded payload. Unknown extra keys are
// ignored and every expected key tolerates null or absence. fallbackYear is
// used to complete bare "M/D" dates; pass 0 to derive it from the payload's
// own bill date or invoice date when one of them carries a full year.
func (n *Normalizer) Normalize(payload map[string]any, fallbackYear int) Record {
	var rec Record

	// First pass without a fallback so a fully dated bill_date/invoice_date
	// can supply the year for the partial ones.
	rec.InvoiceDate = n.Date(payload["invoice_date"], fallbackYear)
	rec.BillDate = n.Date(payload["bill_date"], fallbackYear)

	year := fallbackYear
	if year == 0 {
		year = yearOf(rec.BillDate)
	}
	if year == 0 {
		year = yearOf(rec.InvoiceDate)
	}

	rec.DueDate = n.Date(payload["due_date"], year)
	rec.ServiceFrom = n.Date(payload["service_from"], year)
	rec.ServiceTo = n.Date(payload["service_to"], year)

	rec.Vendor = text(payload["vendor"])
	rec.AccountNumber = text(payload["account_number"])

	rec.Total = n.Currency(payload["total"])
	rec.TotalCurrentCharges = n.Currency(payload["total_current_charges"])
	rec.TotalAmountDue = n.Currency(payload["total_amount_due"])

	usage := payload["usage_quantity"]
	if usage == nil {
		usage = payload["usage_kwh"] // key the extraction prompt uses
	}
	rec.UsageQuantity = n.Integer(usage)

	return rec
}

// Date coerces a raw value to a canonical YYYY-MM-DD string. Strategies are
// tried in order: general calendar parse over known layouts, then bare "M/D"
// combined with fallbackYear. Exhaustion yields nil.
func (n *Normalizer) Date(v any, fallbackYear int) *string {
	s, ok := stringValue(v)
	if !ok || s == "" {
		return nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			iso := t.Format("2006-01-02")
			return &iso
		}
	}

	if m := monthDay.FindStringSubmatch(s); m != nil && fallbackYear > 0 {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		t := time.Date(fallbackYear, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		// time.Date normalizes out-of-range components; reject those.
		if int(t.Month()) != month || t.Day() != day {
			return nil
		}
		iso := t.Format("2006-01-02")
		return &iso
	}

	return nil
}

// Currency coerces a raw value to a decimal amount. Numeric input is accepted
// as-is. String input loses grouping separators, currency symbols and
// whitespace; enclosing parentheses denote a negative amount in accounting
// notation and map to a leading minus. The OCR confusion table is applied
// before the final parse. Failure yields nil, never zero — zero is a valid
// extracted amount and must not be conflated with "unknown".
func (n *Normalizer) Currency(v any) *float64 {
	if v == nil {
		return nil
	}
	if f, ok := numericValue(v); ok {
		return &f
	}

	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.ReplaceAll(s, ",", "")
	for _, sym := range n.currencySym {
		s = strings.ReplaceAll(s, string(sym), "")
	}
	s = strings.TrimSpace(s)

	s = strings.Map(func(r rune) rune {
		if sub, ok := n.ocrSubs[r]; ok {
			return sub
		}
		return r
	}, s)

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if negative {
		f = -f
	}
	return &f
}

// Integer coerces a raw value to a non-negative integer count. Strings lose
// grouping separators before the parse; whole-valued floats (the shape JSON
// numbers decode to) are accepted. Failure yields nil.
func (n *Normalizer) Integer(v any) *int64 {
	if v == nil {
		return nil
	}

	var i int64
	switch x := v.(type) {
	case int:
		i = int64(x)
	case int64:
		i = x
	case float64:
		if x != math.Trunc(x) {
			return nil
		}
		i = int64(x)
	default:
		s := strings.TrimSpace(fmt.Sprint(v))
		s = strings.ReplaceAll(s, ",", "")
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil
		}
		i = parsed
	}

	if i < 0 {
		return nil
	}
	return &i
}

// --- helpers ---

func text(v any) *string {
	s, ok := stringValue(v)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// stringValue renders scalar payload values as trimmed strings. Account
// numbers in particular sometimes come back as JSON numbers.
func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(x), true
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool, map[string]any, []any:
		return "", false
	default:
		return strings.TrimSpace(fmt.Sprint(x)), true
	}
}

func numericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func yearOf(iso *string) int {
	if iso == nil {
		return 0
	}
	t, err := time.Parse("2006-01-02", *iso)
	if err != nil {
		return 0
	}
	return t.Year()
}

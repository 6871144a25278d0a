// Package validate applies business rules to a normalized record. Violations
// are data, not errors: an invalid record is still persisted, flagged for
// human review.
package validate

import (
	"time"

	"github.com/tmacedo/billscan/normalize"
)

// Rule inspects a record and returns zero or more violation descriptions.
// Rules never mutate the record.
type Rule struct {
	Name  string
	Check func(rec normalize.Record) []string
}

// DefaultRules returns the built-in rule set. Rules are evaluated
// independently and all violations are collected; nothing short-circuits.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "required-fields", Check: requiredFields},
		{Name: "invoice-date-parses", Check: invoiceDateParses},
	}
}

// Check runs the default rule set and returns the collected violations.
// An empty slice means the record is valid.
func Check(rec normalize.Record) []string {
	return Run(rec, DefaultRules())
}

// Run evaluates an explicit rule set against a record.
func Run(rec normalize.Record, rules []Rule) []string {
	var violations []string
	for _, r := range rules {
		violations = append(violations, r.Check(rec)...)
	}
	return violations
}

func requiredFields(rec normalize.Record) []string {
	var v []string
	if rec.AccountNumber == nil {
		v = append(v, "missing account_number")
	}
	if rec.InvoiceDate == nil {
		v = append(v, "missing invoice_date")
	}
	return v
}

// invoiceDateParses re-checks the invoice date independently of the
// normalizer, since a record may have been constructed by other means.
func invoiceDateParses(rec normalize.Record) []string {
	if rec.InvoiceDate == nil {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "1/2/2006", "January 2, 2006"} {
		if _, err := time.Parse(layout, *rec.InvoiceDate); err == nil {
			return nil
		}
	}
	return []string{"invalid invoice_date: " + *rec.InvoiceDate}
}

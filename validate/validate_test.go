package validate

import (
	"strings"
	"testing"

	"github.com/tmacedo/billscan/normalize"
)

func strPtr(s string) *string    { return &s }
func fltPtr(f float64) *float64  { return &f }
func intPtr(i int64) *int64      { return &i }

func wellFormedRecord() normalize.Record {
	return normalize.Record{
		Vendor:         strPtr("City Power & Light"),
		InvoiceDate:    strPtr("2024-07-15"),
		Total:          fltPtr(100),
		AccountNumber:  strPtr("ACC-991"),
		BillDate:       strPtr("2024-07-15"),
		DueDate:        strPtr("2024-08-01"),
		ServiceFrom:    strPtr("2024-06-14"),
		ServiceTo:      strPtr("2024-07-14"),
		UsageQuantity:  intPtr(1200),
		TotalAmountDue: fltPtr(100),
	}
}

func TestCheckValidRecord(t *testing.T) {
	violations := Check(wellFormedRecord())
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

// A record missing both the account number and the invoice date yields
// exactly two violations, one naming each missing field.
func TestCheckMissingBoth(t *testing.T) {
	rec := wellFormedRecord()
	rec.AccountNumber = nil
	rec.InvoiceDate = nil

	violations := Check(rec)
	if len(violations) != 2 {
		t.Fatalf("expected exactly 2 violations, got %d: %v", len(violations), violations)
	}
	if !strings.Contains(violations[0], "account_number") {
		t.Errorf("violation[0] = %q, want mention of account_number", violations[0])
	}
	if !strings.Contains(violations[1], "invoice_date") {
		t.Errorf("violation[1] = %q, want mention of invoice_date", violations[1])
	}
}

func TestCheckMissingOne(t *testing.T) {
	rec := wellFormedRecord()
	rec.AccountNumber = nil

	violations := Check(rec)
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %v", violations)
	}
	if !strings.Contains(violations[0], "account_number") {
		t.Errorf("violation = %q, want mention of account_number", violations[0])
	}
}

// The date re-check is independent of the normalizer: a record constructed by
// other means with an unparseable invoice date is flagged.
func TestCheckUnparseableInvoiceDate(t *testing.T) {
	rec := wellFormedRecord()
	rec.InvoiceDate = strPtr("not-a-date")

	violations := Check(rec)
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %v", violations)
	}
	if !strings.Contains(violations[0], "invalid invoice_date") {
		t.Errorf("violation = %q, want invalid invoice_date", violations[0])
	}
}

// Rules never mutate the record.
func TestCheckDoesNotMutate(t *testing.T) {
	rec := wellFormedRecord()
	before := *rec.InvoiceDate
	Check(rec)
	if *rec.InvoiceDate != before {
		t.Fatalf("invoice date mutated: %q -> %q", before, *rec.InvoiceDate)
	}
}

func TestRunCustomRules(t *testing.T) {
	called := 0
	rules := []Rule{
		{Name: "a", Check: func(normalize.Record) []string { called++; return []string{"a broke"} }},
		{Name: "b", Check: func(normalize.Record) []string { called++; return []string{"b broke"} }},
	}

	violations := Run(normalize.Record{}, rules)
	if called != 2 {
		t.Errorf("expected both rules to run, got %d", called)
	}
	if len(violations) != 2 {
		t.Errorf("expected 2 violations collected, got %v", violations)
	}
}

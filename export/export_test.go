//go:build cgo

package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tmacedo/billscan/store"
)

func strPtr(s string) *string   { return &s }
func fltPtr(f float64) *float64 { return &f }
func intPtr(i int64) *int64     { return &i }

// seededStore builds a store holding one extracted document and one failed one.
func seededStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	rawID, err := s.UpsertRaw(ctx, store.RawInvoice{
		Filename:    "july.pdf",
		Mime:        "application/pdf",
		ContentHash: "hash-a",
		PageCount:   2,
		Status:      "extracted",
		FileBytes:   []byte("%PDF-1.4"),
	})
	if err != nil {
		t.Fatalf("UpsertRaw: %v", err)
	}
	if _, err := s.UpsertStaged(ctx, store.StagedInvoice{
		RawID:          rawID,
		Vendor:         strPtr("City Power"),
		InvoiceDate:    strPtr("2024-07-15"),
		Total:          fltPtr(100),
		AccountNumber:  strPtr("A1"),
		BillDate:       strPtr("2024-07-15"),
		UsageKWh:       intPtr(1200),
		TotalAmountDue: fltPtr(100),
		JSONPayload:    `{"account_number":"A1"}`,
		Status:         "clean",
	}); err != nil {
		t.Fatalf("UpsertStaged: %v", err)
	}

	badID, err := s.UpsertRaw(ctx, store.RawInvoice{
		Filename:    "bad.pdf",
		Mime:        "application/pdf",
		ContentHash: "hash-b",
		Status:      "processing",
		FileBytes:   []byte("%PDF-1.4"),
	})
	if err != nil {
		t.Fatalf("UpsertRaw: %v", err)
	}
	if err := s.MarkRawFailed(ctx, badID, "rasterize", "document could not be rendered"); err != nil {
		t.Fatalf("MarkRawFailed: %v", err)
	}
	return s
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return rows
}

func TestWriteAll(t *testing.T) {
	s := seededStore(t)
	outDir := filepath.Join(t.TempDir(), "out")
	now := time.Date(2024, 7, 20, 9, 30, 0, 0, time.UTC)

	a, err := WriteAll(context.Background(), s, outDir, now)
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	for _, path := range []string{a.StagingCSV, a.RawCSV, a.PrettyCSV, a.SnapshotCSV, a.Workbook} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing artifact %s: %v", path, err)
		}
	}
	if filepath.Base(a.SnapshotCSV) != "invoices_staging_20240720_093000.csv" {
		t.Errorf("snapshot name = %s", filepath.Base(a.SnapshotCSV))
	}
}

func TestWriteAllStagingCSV(t *testing.T) {
	s := seededStore(t)
	outDir := t.TempDir()

	a, err := WriteAll(context.Background(), s, outDir, time.Now())
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	rows := readCSV(t, a.StagingCSV)
	if len(rows) != 2 {
		t.Fatalf("staging rows = %d, want header + 1", len(rows))
	}
	if rows[0][2] != "vendor" || rows[0][10] != "usage_kwh" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	row := rows[1]
	if row[2] != "City Power" {
		t.Errorf("vendor = %q", row[2])
	}
	if row[4] != "100" {
		t.Errorf("total = %q, want plain decimal", row[4])
	}
	if row[10] != "1200" {
		t.Errorf("usage_kwh = %q", row[10])
	}
	// Absent fields export as empty cells.
	if row[7] != "" || row[15] != "" {
		t.Errorf("absent fields not empty: due_date=%q validation_errors=%q", row[7], row[15])
	}

	// The snapshot carries the same content.
	snap := readCSV(t, a.SnapshotCSV)
	if len(snap) != len(rows) {
		t.Errorf("snapshot rows = %d, want %d", len(snap), len(rows))
	}
}

func TestWriteAllPrettyCSV(t *testing.T) {
	s := seededStore(t)
	outDir := t.TempDir()

	a, err := WriteAll(context.Background(), s, outDir, time.Now())
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	rows := readCSV(t, a.PrettyCSV)
	if len(rows[0]) != len(prettyHeader) {
		t.Fatalf("pretty columns = %d, want %d", len(rows[0]), len(prettyHeader))
	}
	for _, col := range rows[0] {
		if col == "json_payload" {
			t.Error("pretty export must not carry the raw payload column")
		}
	}
	if rows[1][3] != "A1" {
		t.Errorf("account_number = %q", rows[1][3])
	}
}

func TestWriteAllRawIndex(t *testing.T) {
	s := seededStore(t)
	outDir := t.TempDir()

	a, err := WriteAll(context.Background(), s, outDir, time.Now())
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	rows := readCSV(t, a.RawCSV)
	if len(rows) != 3 {
		t.Fatalf("raw rows = %d, want header + 2", len(rows))
	}
	if rows[1][1] != "july.pdf" || rows[1][4] != "extracted" {
		t.Errorf("first row = %v", rows[1])
	}
	if rows[2][4] != "failed" || rows[2][5] != "rasterize" {
		t.Errorf("failed document row = %v", rows[2])
	}
	if rows[1][7] == "" {
		t.Error("missing uploaded_at")
	}
}

func TestWriteAllWorkbook(t *testing.T) {
	s := seededStore(t)
	outDir := t.TempDir()

	a, err := WriteAll(context.Background(), s, outDir, time.Now())
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	f, err := excelize.OpenFile(a.Workbook)
	if err != nil {
		t.Fatalf("opening workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "staging" || sheets[1] != "raw" {
		t.Fatalf("sheets = %v, want [staging raw]", sheets)
	}

	vendor, err := f.GetCellValue("staging", "C2")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if vendor != "City Power" {
		t.Errorf("staging!C2 = %q", vendor)
	}
	filename, err := f.GetCellValue("raw", "B2")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if filename != "july.pdf" {
		t.Errorf("raw!B2 = %q", filename)
	}
}

func TestWriteAllEmptyStore(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	a, err := WriteAll(context.Background(), s, t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("WriteAll on empty store: %v", err)
	}

	rows := readCSV(t, a.StagingCSV)
	if len(rows) != 1 {
		t.Errorf("staging rows = %d, want header only", len(rows))
	}
}

// Package export writes the staged-record set and the raw-document index as
// flat tabular files once a batch run completes: full CSVs, a reduced
// "pretty" column subset, a timestamped snapshot per run for historical
// comparison, and an xlsx review workbook.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tmacedo/billscan/store"
)

// Artifacts lists the files written by one export.
type Artifacts struct {
	StagingCSV  string
	RawCSV      string
	PrettyCSV   string
	SnapshotCSV string
	Workbook    string
}

var stagingHeader = []string{
	"id", "raw_id", "vendor", "invoice_date", "total", "account_number",
	"bill_date", "due_date", "service_from", "service_to", "usage_kwh",
	"total_current_charges", "total_amount_due", "json_payload", "status",
	"validation_errors", "created_at", "updated_at",
}

// prettyHeader is the reduced column subset that is actually useful to a
// reviewer opening the file in a spreadsheet.
var prettyHeader = []string{
	"id", "raw_id", "vendor", "account_number",
	"bill_date", "due_date", "service_from", "service_to",
	"usage_kwh", "total_current_charges", "total_amount_due",
	"invoice_date", "total", "status", "validation_errors",
}

var rawHeader = []string{"id", "filename", "mime", "page_count", "status", "failed_stage", "failure_reason", "uploaded_at"}

// WriteAll exports everything from the store into outDir and returns the
// artifact paths. The snapshot file carries a timestamp in its name.
func WriteAll(ctx context.Context, s *store.Store, outDir string, now time.Time) (*Artifacts, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	staged, err := s.ListStaged(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing staged records: %w", err)
	}
	raws, err := s.ListRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing raw documents: %w", err)
	}

	a := &Artifacts{
		StagingCSV:  filepath.Join(outDir, "invoices_staging.csv"),
		RawCSV:      filepath.Join(outDir, "invoices_raw.csv"),
		PrettyCSV:   filepath.Join(outDir, "invoices_staging_pretty.csv"),
		SnapshotCSV: filepath.Join(outDir, "invoices_staging_"+now.Format("20060102_150405")+".csv"),
		Workbook:    filepath.Join(outDir, "invoices_review.xlsx"),
	}

	stagingRows := make([][]string, 0, len(staged))
	prettyRows := make([][]string, 0, len(staged))
	for _, st := range staged {
		stagingRows = append(stagingRows, stagingRow(st))
		prettyRows = append(prettyRows, prettyRow(st))
	}
	rawRows := make([][]string, 0, len(raws))
	for _, r := range raws {
		rawRows = append(rawRows, rawRow(r))
	}

	if err := writeCSV(a.StagingCSV, stagingHeader, stagingRows); err != nil {
		return nil, err
	}
	if err := writeCSV(a.SnapshotCSV, stagingHeader, stagingRows); err != nil {
		return nil, err
	}
	if err := writeCSV(a.PrettyCSV, prettyHeader, prettyRows); err != nil {
		return nil, err
	}
	if err := writeCSV(a.RawCSV, rawHeader, rawRows); err != nil {
		return nil, err
	}
	if err := writeWorkbook(a.Workbook, stagingRows, rawRows); err != nil {
		return nil, err
	}

	return a, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing header to %s: %w", path, err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing row to %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return f.Close()
}

// writeWorkbook produces the review workbook with one sheet per table.
func writeWorkbook(path string, stagingRows, rawRows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", "staging")
	if _, err := f.NewSheet("raw"); err != nil {
		return fmt.Errorf("creating raw sheet: %w", err)
	}

	if err := writeSheet(f, "staging", stagingHeader, stagingRows); err != nil {
		return err
	}
	if err := writeSheet(f, "raw", rawHeader, rawRows); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]string) error {
	cell, _ := excelize.CoordinatesToCellName(1, 1)
	if err := f.SetSheetRow(sheet, cell, &header); err != nil {
		return fmt.Errorf("writing %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

// --- row formatting ---

func stagingRow(st store.StagedInvoice) []string {
	return []string{
		strconv.FormatInt(st.ID, 10),
		strconv.FormatInt(st.RawID, 10),
		str(st.Vendor),
		str(st.InvoiceDate),
		flt(st.Total),
		str(st.AccountNumber),
		str(st.BillDate),
		str(st.DueDate),
		str(st.ServiceFrom),
		str(st.ServiceTo),
		integer(st.UsageKWh),
		flt(st.TotalCurrentCharges),
		flt(st.TotalAmountDue),
		st.JSONPayload,
		st.Status,
		str(st.ValidationErrors),
		st.CreatedAt,
		st.UpdatedAt,
	}
}

func prettyRow(st store.StagedInvoice) []string {
	return []string{
		strconv.FormatInt(st.ID, 10),
		strconv.FormatInt(st.RawID, 10),
		str(st.Vendor),
		str(st.AccountNumber),
		str(st.BillDate),
		str(st.DueDate),
		str(st.ServiceFrom),
		str(st.ServiceTo),
		integer(st.UsageKWh),
		flt(st.TotalCurrentCharges),
		flt(st.TotalAmountDue),
		str(st.InvoiceDate),
		flt(st.Total),
		st.Status,
		str(st.ValidationErrors),
	}
}

func rawRow(r store.RawInvoice) []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Filename,
		r.Mime,
		strconv.Itoa(r.PageCount),
		r.Status,
		r.FailedStage,
		r.FailureReason,
		r.UploadedAt,
	}
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func flt(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func integer(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

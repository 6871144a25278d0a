// Package store is the durable sqlite layer for raw documents and their
// staged extraction records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RawInvoice is a row in invoices_raw: the original bytes plus minimal
// metadata, persisted for audit even when extraction fails.
type RawInvoice struct {
	ID            int64
	Filename      string
	Mime          string
	ContentHash   string
	PageCount     int
	Status        string
	FailedStage   string
	FailureReason string
	UploadedAt    string
	FileBytes     []byte
}

// StagedInvoice is a row in invoices_staging. Field pointers mirror the
// normalized record: nil means the field was absent in the extraction.
type StagedInvoice struct {
	ID                  int64
	RawID               int64
	Vendor              *string
	InvoiceDate         *string
	Total               *float64
	AccountNumber       *string
	BillDate            *string
	DueDate             *string
	ServiceFrom         *string
	ServiceTo           *string
	UsageKWh            *int64
	TotalCurrentCharges *float64
	TotalAmountDue      *float64
	JSONPayload         string
	Status              string
	ValidationErrors    *string
	CreatedAt           string
	UpdatedAt           string
}

// Store wraps the sqlite database for all billscan persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and initialises the schema.
func New(dbPath string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Raw document operations ---

// UpsertRaw inserts or updates a raw document keyed by content hash and
// returns its ID. An upsert resets any earlier failure marker so a re-run
// starts the document clean.
func (s *Store) UpsertRaw(ctx context.Context, raw RawInvoice) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices_raw (filename, mime, content_hash, page_count, status, file_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			filename = excluded.filename,
			mime = excluded.mime,
			page_count = excluded.page_count,
			status = excluded.status,
			failed_stage = NULL,
			failure_reason = NULL
	`, raw.Filename, raw.Mime, raw.ContentHash, raw.PageCount, raw.Status, raw.FileBytes)
	if err != nil {
		return 0, err
	}

	// On the conflict path last_insert_rowid() still holds the connection's
	// previous INSERT, so always resolve the id by the conflict key.
	var id int64
	row := s.db.QueryRowContext(ctx, "SELECT id FROM invoices_raw WHERE content_hash = ?", raw.ContentHash)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// SetRawStatus updates the processing status of a raw document.
func (s *Store) SetRawStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE invoices_raw SET status = ?, failed_stage = NULL, failure_reason = NULL WHERE id = ?
	`, status, id)
	return err
}

// MarkRawFailed records the failure marker for a raw document: which pipeline
// stage failed and why.
func (s *Store) MarkRawFailed(ctx context.Context, id int64, stage, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE invoices_raw SET status = 'failed', failed_stage = ?, failure_reason = ? WHERE id = ?
	`, stage, reason, id)
	return err
}

// GetRaw retrieves a raw document by ID, including its bytes.
func (s *Store) GetRaw(ctx context.Context, id int64) (*RawInvoice, error) {
	raw := &RawInvoice{}
	var mime, stage, reason sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, mime, content_hash, page_count, status, failed_stage, failure_reason, uploaded_at, file_bytes
		FROM invoices_raw WHERE id = ?
	`, id).Scan(&raw.ID, &raw.Filename, &mime, &raw.ContentHash, &raw.PageCount,
		&raw.Status, &stage, &reason, &raw.UploadedAt, &raw.FileBytes)
	if err != nil {
		return nil, err
	}
	raw.Mime = mime.String
	raw.FailedStage = stage.String
	raw.FailureReason = reason.String
	return raw, nil
}

// ListRaw returns the raw-document index (no bytes) in upload order.
func (s *Store) ListRaw(ctx context.Context) ([]RawInvoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, mime, content_hash, page_count, status, failed_stage, failure_reason, uploaded_at
		FROM invoices_raw ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raws []RawInvoice
	for rows.Next() {
		var r RawInvoice
		var mime, stage, reason sql.NullString
		if err := rows.Scan(&r.ID, &r.Filename, &mime, &r.ContentHash, &r.PageCount,
			&r.Status, &stage, &reason, &r.UploadedAt); err != nil {
			return nil, err
		}
		r.Mime = mime.String
		r.FailedStage = stage.String
		r.FailureReason = reason.String
		raws = append(raws, r)
	}
	return raws, rows.Err()
}

// --- Staged record operations ---

// UpsertStaged inserts or updates the staging row for a raw document and
// returns its ID. Conflict target is raw_id: one raw document maps to at most
// one staged record.
func (s *Store) UpsertStaged(ctx context.Context, st StagedInvoice) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices_staging (
			raw_id, vendor, invoice_date, total, account_number, bill_date, due_date,
			service_from, service_to, usage_kwh, total_current_charges, total_amount_due,
			json_payload, status, validation_errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(raw_id) DO UPDATE SET
			vendor = excluded.vendor,
			invoice_date = excluded.invoice_date,
			total = excluded.total,
			account_number = excluded.account_number,
			bill_date = excluded.bill_date,
			due_date = excluded.due_date,
			service_from = excluded.service_from,
			service_to = excluded.service_to,
			usage_kwh = excluded.usage_kwh,
			total_current_charges = excluded.total_current_charges,
			total_amount_due = excluded.total_amount_due,
			json_payload = excluded.json_payload,
			status = excluded.status,
			validation_errors = excluded.validation_errors,
			updated_at = CURRENT_TIMESTAMP
	`, st.RawID, st.Vendor, st.InvoiceDate, st.Total, st.AccountNumber, st.BillDate, st.DueDate,
		st.ServiceFrom, st.ServiceTo, st.UsageKWh, st.TotalCurrentCharges, st.TotalAmountDue,
		st.JSONPayload, st.Status, st.ValidationErrors)
	if err != nil {
		return 0, err
	}

	var id int64
	row := s.db.QueryRowContext(ctx, "SELECT id FROM invoices_staging WHERE raw_id = ?", st.RawID)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetStagedByRawID retrieves the staging row for a raw document.
func (s *Store) GetStagedByRawID(ctx context.Context, rawID int64) (*StagedInvoice, error) {
	row := s.db.QueryRowContext(ctx, selectStaged+" WHERE raw_id = ?", rawID)
	st, err := scanStaged(row)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ListStaged returns all staging rows in insertion order.
func (s *Store) ListStaged(ctx context.Context) ([]StagedInvoice, error) {
	rows, err := s.db.QueryContext(ctx, selectStaged+" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var staged []StagedInvoice
	for rows.Next() {
		st, err := scanStaged(rows)
		if err != nil {
			return nil, err
		}
		staged = append(staged, *st)
	}
	return staged, rows.Err()
}

const selectStaged = `
	SELECT id, raw_id, vendor, invoice_date, total, account_number, bill_date, due_date,
	       service_from, service_to, usage_kwh, total_current_charges, total_amount_due,
	       json_payload, status, validation_errors, created_at, updated_at
	FROM invoices_staging`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStaged(row rowScanner) (*StagedInvoice, error) {
	st := &StagedInvoice{}
	var verrs sql.NullString
	err := row.Scan(&st.ID, &st.RawID, &st.Vendor, &st.InvoiceDate, &st.Total,
		&st.AccountNumber, &st.BillDate, &st.DueDate, &st.ServiceFrom, &st.ServiceTo,
		&st.UsageKWh, &st.TotalCurrentCharges, &st.TotalAmountDue,
		&st.JSONPayload, &st.Status, &verrs, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if verrs.Valid {
		st.ValidationErrors = &verrs.String
	}
	return st, nil
}

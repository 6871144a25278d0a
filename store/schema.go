package store

// schemaSQL is the DDL for the two invoice tables. invoices_raw keeps the
// original bytes for audit; invoices_staging holds the normalized field set.
// One raw document maps to at most one staging row.
const schemaSQL = `
-- Original document bytes plus minimal metadata, keyed by content hash so
-- re-running a batch over the same files upserts instead of duplicating.
CREATE TABLE IF NOT EXISTS invoices_raw (
    id INTEGER PRIMARY KEY,
    filename TEXT NOT NULL,
    mime TEXT,
    content_hash TEXT NOT NULL UNIQUE,
    page_count INTEGER DEFAULT 0,
    status TEXT DEFAULT 'pending',
    failed_stage TEXT,
    failure_reason TEXT,
    uploaded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    file_bytes BLOB NOT NULL
);

-- Normalized extraction output staged for review. json_payload keeps the
-- verbatim model reply for auditing.
CREATE TABLE IF NOT EXISTS invoices_staging (
    id INTEGER PRIMARY KEY,
    raw_id INTEGER NOT NULL UNIQUE REFERENCES invoices_raw(id) ON DELETE CASCADE,
    vendor TEXT,
    invoice_date TEXT,
    total REAL,
    account_number TEXT,
    bill_date TEXT,
    due_date TEXT,
    service_from TEXT,
    service_to TEXT,
    usage_kwh INTEGER,
    total_current_charges REAL,
    total_amount_due REAL,
    json_payload TEXT NOT NULL,
    status TEXT DEFAULT 'pending',
    validation_errors TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

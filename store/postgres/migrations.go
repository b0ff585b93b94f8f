package postgres

// migrations run in order inside a single transaction. Each statement
// is idempotent so Migrate can be re-run safely.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS billing_invoices (
    id                           TEXT PRIMARY KEY,
    code                         TEXT NOT NULL DEFAULT '',
    external_id                  TEXT NOT NULL DEFAULT '',
    institution_id               TEXT NOT NULL DEFAULT '',
    status                       TEXT NOT NULL DEFAULT 'open',
    reference_period             TEXT NOT NULL DEFAULT '',
    payer_document               TEXT NOT NULL DEFAULT '',
    due_date                     TIMESTAMPTZ NOT NULL,
    effective_transfer_base_date TIMESTAMPTZ,
    doc                          JSONB NOT NULL,
    created_at                   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at                   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_invoices_code ON billing_invoices (code) WHERE code <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_invoices_external ON billing_invoices (institution_id, external_id) WHERE external_id <> '';
CREATE INDEX IF NOT EXISTS idx_billing_invoices_institution ON billing_invoices (institution_id, status, due_date);
CREATE INDEX IF NOT EXISTS idx_billing_invoices_payer ON billing_invoices (institution_id, payer_document);
CREATE INDEX IF NOT EXISTS idx_billing_invoices_transfer ON billing_invoices (effective_transfer_base_date);
CREATE INDEX IF NOT EXISTS idx_billing_invoices_remote ON billing_invoices USING GIN ((doc -> 'instruments'));
`,
	`
CREATE TABLE IF NOT EXISTS billing_accounts (
    id             TEXT PRIMARY KEY,
    institution_id TEXT NOT NULL DEFAULT '',
    processor      TEXT NOT NULL DEFAULT '',
    name           TEXT NOT NULL DEFAULT '',
    is_default     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_billing_accounts_institution ON billing_accounts (institution_id, is_default);
`,
}

// Package postgres implements the billing store on PostgreSQL via
// pgx. The invoice aggregate is stored as a JSONB document alongside
// the scalar columns the queries filter on.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	billing "github.com/edupay/billing"
	"github.com/edupay/billing/clock"
	"github.com/edupay/billing/gateway"
	"github.com/edupay/billing/id"
	"github.com/edupay/billing/invoice"
	billingstore "github.com/edupay/billing/store"
)

// compile-time interface check
var _ billingstore.Store = (*Store)(nil)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a PostgreSQL store on the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("billing/postgres: begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("billing/postgres: %w: %v", billing.ErrMigrationFailed, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("billing/postgres: commit migration: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ==================== Invoice Store ====================

const invoiceColumns = `id, code, external_id, institution_id, status, reference_period,
payer_document, due_date, effective_transfer_base_date, doc, created_at, updated_at`

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	doc, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("billing/postgres: encode invoice: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO billing_invoices (`+invoiceColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inv.ID.String(), inv.Code, inv.ExternalID, inv.InstitutionID.String(),
		string(inv.Status), inv.ReferencePeriod, inv.Payer.Document,
		inv.DueDate, nullTime(inv.EffectiveTransferBaseDate), doc,
		inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/postgres: create invoice: %w", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, `SELECT doc FROM billing_invoices WHERE id = $1`, "get invoice", invID.String())
}

func (s *Store) GetInvoiceByCode(ctx context.Context, code string) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, `SELECT doc FROM billing_invoices WHERE code = $1`, "get invoice by code", code)
}

func (s *Store) GetInvoiceByExternalID(ctx context.Context, institutionID id.InstitutionID, externalID string) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, `
SELECT doc FROM billing_invoices WHERE institution_id = $1 AND external_id = $2`,
		"get invoice by external id", institutionID.String(), externalID)
}

func (s *Store) GetInvoiceByRemoteID(ctx context.Context, remoteID string) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, `
SELECT doc FROM billing_invoices
WHERE doc -> 'instruments' @> jsonb_build_array(jsonb_build_object('remote_id', $1::text))`,
		"get invoice by remote id", remoteID)
}

func (s *Store) findInvoice(ctx context.Context, query, op string, args ...any) (*invoice.Invoice, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("billing/postgres: %s: %w", op, err)
	}
	return decodeInvoice(doc)
}

func (s *Store) ListInvoices(ctx context.Context, institutionID id.InstitutionID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	query := `SELECT doc FROM billing_invoices WHERE institution_id = $1`
	args := []any{institutionID.String()}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if opts.ReferencePeriod != "" {
		args = append(args, opts.ReferencePeriod)
		query += fmt.Sprintf(" AND reference_period = $%d", len(args))
	}
	if opts.PayerDocument != "" {
		args = append(args, opts.PayerDocument)
		query += fmt.Sprintf(" AND payer_document = $%d", len(args))
	}
	if !opts.DueFrom.IsZero() {
		args = append(args, opts.DueFrom)
		query += fmt.Sprintf(" AND due_date >= $%d", len(args))
	}
	if !opts.DueTo.IsZero() {
		args = append(args, opts.DueTo)
		query += fmt.Sprintf(" AND due_date <= $%d", len(args))
	}

	query += " ORDER BY code ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.listInvoices(ctx, query, "list invoices", args...)
}

func (s *Store) ListInvoicesByPayerDocument(ctx context.Context, institutionID id.InstitutionID, document string) ([]*invoice.Invoice, error) {
	return s.listInvoices(ctx, `
SELECT doc FROM billing_invoices
WHERE institution_id = $1 AND payer_document = $2
ORDER BY code ASC`,
		"list invoices by payer document", institutionID.String(), document)
}

func (s *Store) ListInvoicesToTransferOn(ctx context.Context, transferDate time.Time) ([]*invoice.Invoice, error) {
	day := clock.Truncate(transferDate)
	next := day.AddDate(0, 0, 1)

	return s.listInvoices(ctx, `
SELECT doc FROM billing_invoices
WHERE (effective_transfer_base_date >= $1 AND effective_transfer_base_date < $2)
   OR (effective_transfer_base_date IS NULL AND due_date >= $1 AND due_date < $2)
ORDER BY code ASC`,
		"list invoices to transfer", day, next)
}

func (s *Store) ListOverdueInvoices(ctx context.Context, dueBefore time.Time) ([]*invoice.Invoice, error) {
	return s.listInvoices(ctx, `
SELECT doc FROM billing_invoices
WHERE due_date < $1 AND status NOT IN ($2, $3)
ORDER BY code ASC`,
		"list overdue invoices", clock.Truncate(dueBefore),
		string(invoice.StatusPaid), string(invoice.StatusCanceled))
}

func (s *Store) listInvoices(ctx context.Context, query, op string, args ...any) ([]*invoice.Invoice, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("billing/postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var result []*invoice.Invoice
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("billing/postgres: %s scan: %w", op, err)
		}
		inv, err := decodeInvoice(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("billing/postgres: %s rows: %w", op, err)
	}
	return result, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	inv.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("billing/postgres: encode invoice: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE billing_invoices
SET code = $2, external_id = $3, status = $4, reference_period = $5,
    payer_document = $6, due_date = $7, effective_transfer_base_date = $8,
    doc = $9, updated_at = $10
WHERE id = $1`,
		inv.ID.String(), inv.Code, inv.ExternalID, string(inv.Status),
		inv.ReferencePeriod, inv.Payer.Document, inv.DueDate,
		nullTime(inv.EffectiveTransferBaseDate), doc, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("billing/postgres: update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrInvoiceNotFound
	}
	return nil
}

// ==================== Gateway account Store ====================

func (s *Store) CreateAccount(ctx context.Context, account *gateway.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("billing/postgres: begin create account: %w", err)
	}
	defer tx.Rollback(ctx)

	if account.Default {
		_, err := tx.Exec(ctx, `
UPDATE billing_accounts SET is_default = FALSE
WHERE institution_id = $1 AND is_default`,
			account.InstitutionID.String())
		if err != nil {
			return fmt.Errorf("billing/postgres: clear default account: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO billing_accounts (id, institution_id, processor, name, is_default)
VALUES ($1, $2, $3, $4, $5)`,
		account.ID.String(), account.InstitutionID.String(),
		string(account.Processor), account.Name, account.Default)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/postgres: create account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("billing/postgres: commit create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID uuid.UUID) (*gateway.Account, error) {
	account, err := s.scanAccount(s.pool.QueryRow(ctx, `
SELECT id, institution_id, processor, name, is_default
FROM billing_accounts WHERE id = $1`,
		accountID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrAccountNotFound
		}
		return nil, fmt.Errorf("billing/postgres: get account: %w", err)
	}
	return account, nil
}

func (s *Store) GetDefaultAccount(ctx context.Context, institutionID id.InstitutionID) (*gateway.Account, error) {
	account, err := s.scanAccount(s.pool.QueryRow(ctx, `
SELECT id, institution_id, processor, name, is_default
FROM billing_accounts WHERE institution_id = $1 AND is_default`,
		institutionID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrNoDefaultAccount
		}
		return nil, fmt.Errorf("billing/postgres: get default account: %w", err)
	}
	return account, nil
}

func (s *Store) ListAccounts(ctx context.Context, institutionID id.InstitutionID) ([]*gateway.Account, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, institution_id, processor, name, is_default
FROM billing_accounts WHERE institution_id = $1
ORDER BY name ASC`,
		institutionID.String())
	if err != nil {
		return nil, fmt.Errorf("billing/postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var result []*gateway.Account
	for rows.Next() {
		account, err := s.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("billing/postgres: list accounts scan: %w", err)
		}
		result = append(result, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("billing/postgres: list accounts rows: %w", err)
	}
	return result, nil
}

func (s *Store) scanAccount(row pgx.Row) (*gateway.Account, error) {
	var (
		rawID, rawInstitution, processor, name string
		isDefault                              bool
	)
	if err := row.Scan(&rawID, &rawInstitution, &processor, &name, &isDefault); err != nil {
		return nil, err
	}

	accountID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("account id: %w", err)
	}
	institutionID, err := id.ParseInstitutionID(rawInstitution)
	if err != nil {
		return nil, fmt.Errorf("institution id: %w", err)
	}

	return &gateway.Account{
		ID:            accountID,
		InstitutionID: institutionID,
		Processor:     invoice.ProcessorType(processor),
		Name:          name,
		Default:       isDefault,
	}, nil
}

// ==================== Helpers ====================

func decodeInvoice(doc []byte) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	if err := json.Unmarshal(doc, &inv); err != nil {
		return nil, fmt.Errorf("billing/postgres: decode invoice: %w", err)
	}
	return &inv, nil
}

// nullTime maps the zero time to NULL so partial indexes stay usable.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// isUniqueViolation checks for a unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

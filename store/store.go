// Package store declares the storage interface the billing manager
// persists through. Implementations live in the memory, mongo and
// postgres subpackages.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edupay/billing/gateway"
	"github.com/edupay/billing/id"
	"github.com/edupay/billing/invoice"
)

// Store is the unified storage interface for all billing entities.
type Store interface {
	// Invoice methods
	CreateInvoice(ctx context.Context, inv *invoice.Invoice) error
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error)
	GetInvoiceByCode(ctx context.Context, code string) (*invoice.Invoice, error)
	GetInvoiceByExternalID(ctx context.Context, institutionID id.InstitutionID, externalID string) (*invoice.Invoice, error)
	GetInvoiceByRemoteID(ctx context.Context, remoteID string) (*invoice.Invoice, error)
	ListInvoices(ctx context.Context, institutionID id.InstitutionID, opts invoice.ListOpts) ([]*invoice.Invoice, error)
	ListInvoicesByPayerDocument(ctx context.Context, institutionID id.InstitutionID, document string) ([]*invoice.Invoice, error)
	ListInvoicesToTransferOn(ctx context.Context, transferDate time.Time) ([]*invoice.Invoice, error)
	ListOverdueInvoices(ctx context.Context, dueBefore time.Time) ([]*invoice.Invoice, error)
	UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error

	// Gateway account methods
	CreateAccount(ctx context.Context, account *gateway.Account) error
	GetAccount(ctx context.Context, accountID uuid.UUID) (*gateway.Account, error)
	GetDefaultAccount(ctx context.Context, institutionID id.InstitutionID) (*gateway.Account, error)
	ListAccounts(ctx context.Context, institutionID id.InstitutionID) ([]*gateway.Account, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Package memory provides an in-memory Store implementation. Intended
// for tests and local development; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	billing "github.com/edupay/billing"
	"github.com/edupay/billing/clock"
	"github.com/edupay/billing/gateway"
	"github.com/edupay/billing/id"
	"github.com/edupay/billing/invoice"
)

type Store struct {
	mu sync.RWMutex

	// Invoice storage
	invoices map[string]*invoice.Invoice

	// Gateway account storage
	accounts map[string]*gateway.Account
}

func New() *Store {
	return &Store{
		invoices: make(map[string]*invoice.Invoice),
		accounts: make(map[string]*gateway.Account),
	}
}

// Invoice Store implementation
func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	for _, existing := range s.invoices {
		if existing.Code == inv.Code {
			return billing.ErrAlreadyExists
		}
		if inv.ExternalID != "" && existing.ExternalID == inv.ExternalID &&
			existing.InstitutionID == inv.InstitutionID {
			return billing.ErrAlreadyExists
		}
	}

	s.invoices[inv.ID.String()] = inv
	return nil
}

func (s *Store) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, exists := s.invoices[invID.String()]
	if !exists {
		return nil, billing.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *Store) GetInvoiceByCode(_ context.Context, code string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.Code == code {
			return inv, nil
		}
	}
	return nil, billing.ErrInvoiceNotFound
}

func (s *Store) GetInvoiceByExternalID(_ context.Context, institutionID id.InstitutionID, externalID string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.InstitutionID == institutionID && inv.ExternalID == externalID {
			return inv, nil
		}
	}
	return nil, billing.ErrInvoiceNotFound
}

func (s *Store) GetInvoiceByRemoteID(_ context.Context, remoteID string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.InstrumentByRemoteID(remoteID) != nil {
			return inv, nil
		}
	}
	return nil, billing.ErrInvoiceNotFound
}

func (s *Store) ListInvoices(_ context.Context, institutionID id.InstitutionID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*invoice.Invoice
	for _, inv := range s.invoices {
		if inv.InstitutionID != institutionID {
			continue
		}
		if opts.Status != "" && inv.Status != opts.Status {
			continue
		}
		if opts.ReferencePeriod != "" && inv.ReferencePeriod != opts.ReferencePeriod {
			continue
		}
		if opts.PayerDocument != "" && !inv.Payer.SameDocument(opts.PayerDocument) {
			continue
		}
		if !opts.DueFrom.IsZero() && inv.DueDate.Before(opts.DueFrom) {
			continue
		}
		if !opts.DueTo.IsZero() && inv.DueDate.After(opts.DueTo) {
			continue
		}
		result = append(result, inv)
	}

	sortByCode(result)
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListInvoicesByPayerDocument(_ context.Context, institutionID id.InstitutionID, document string) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*invoice.Invoice
	for _, inv := range s.invoices {
		if inv.InstitutionID == institutionID && inv.Payer.SameDocument(document) {
			result = append(result, inv)
		}
	}

	sortByCode(result)
	return result, nil
}

func (s *Store) ListInvoicesToTransferOn(_ context.Context, transferDate time.Time) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*invoice.Invoice
	for _, inv := range s.invoices {
		settleOn := inv.EffectiveTransferBaseDate
		if settleOn.IsZero() {
			settleOn = inv.DueDate
		}
		if clock.SameDay(settleOn, transferDate) {
			result = append(result, inv)
		}
	}

	sortByCode(result)
	return result, nil
}

func (s *Store) ListOverdueInvoices(_ context.Context, dueBefore time.Time) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*invoice.Invoice
	for _, inv := range s.invoices {
		if inv.IsPaid() || inv.Status == invoice.StatusCanceled {
			continue
		}
		if inv.DueDate.Before(clock.Truncate(dueBefore)) {
			result = append(result, inv)
		}
	}

	sortByCode(result)
	return result, nil
}

func (s *Store) UpdateInvoice(_ context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID.String()]; !exists {
		return billing.ErrInvoiceNotFound
	}

	inv.UpdatedAt = time.Now().UTC()
	s.invoices[inv.ID.String()] = inv
	return nil
}

// Gateway account Store implementation
func (s *Store) CreateAccount(_ context.Context, account *gateway.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}

	if account.Default {
		for _, existing := range s.accounts {
			if existing.InstitutionID == account.InstitutionID {
				existing.Default = false
			}
		}
	}

	s.accounts[account.ID.String()] = account
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID uuid.UUID) (*gateway.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[accountID.String()]
	if !exists {
		return nil, billing.ErrAccountNotFound
	}
	return account, nil
}

func (s *Store) GetDefaultAccount(_ context.Context, institutionID id.InstitutionID) (*gateway.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accounts {
		if account.InstitutionID == institutionID && account.Default {
			return account, nil
		}
	}
	return nil, billing.ErrNoDefaultAccount
}

func (s *Store) ListAccounts(_ context.Context, institutionID id.InstitutionID) ([]*gateway.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*gateway.Account
	for _, account := range s.accounts {
		if account.InstitutionID == institutionID {
			result = append(result, account)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// Core Store implementation
func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func sortByCode(invoices []*invoice.Invoice) {
	sort.Slice(invoices, func(i, j int) bool {
		return invoices[i].Code < invoices[j].Code
	})
}

func paginate(invoices []*invoice.Invoice, offset, limit int) []*invoice.Invoice {
	if offset > 0 {
		if offset >= len(invoices) {
			return nil
		}
		invoices = invoices[offset:]
	}
	if limit > 0 && limit < len(invoices) {
		invoices = invoices[:limit]
	}
	return invoices
}

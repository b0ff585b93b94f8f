// Package strategy books the double-entry ledger transactions that an
// invoice's lifecycle events produce. Each billing plan maps to one
// Strategy; the registry picks the right one from the invoice's plan.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/edupay/billing/id"
	"github.com/edupay/billing/invoice"
	"github.com/edupay/billing/types"
)

var (
	// ErrInvalidTax indicates the invoice cannot receive a platform tax
	// entry: either one already exists, or there is nothing to tax.
	ErrInvalidTax = errors.New("strategy: invoice has no room for a platform tax entry")

	// ErrUndefinedCardTaxResponsible indicates the platform settings do
	// not say who absorbs the card processing tax.
	ErrUndefinedCardTaxResponsible = errors.New("strategy: responsible for credit card tax is undefined")

	// ErrUnknownPlan indicates no strategy is registered for the
	// invoice's billing plan.
	ErrUnknownPlan = errors.New("strategy: unknown billing plan")
)

// CardTaxResponsible says which party absorbs the credit card
// processing tax.
type CardTaxResponsible string

const (
	ResponsibleUndefined   CardTaxResponsible = ""
	ResponsiblePayer       CardTaxResponsible = "payer"
	ResponsibleInstitution CardTaxResponsible = "institution"
	ResponsiblePlatform    CardTaxResponsible = "platform"
)

// Settings supplies the platform-level knobs the strategies read.
// Rates are fractions: 0.02 means 2%.
type Settings interface {
	// OverdueFineRate and DailyInterestRate are the platform's own fine
	// configuration, used for the charge entries between platform and
	// institution. The payer-facing fine lives on the invoice itself.
	OverdueFineRate() decimal.Decimal
	DailyInterestRate() decimal.Decimal

	// TaxRate is the platform's cut for the given institution.
	TaxRate(institutionID id.InstitutionID) (decimal.Decimal, error)

	// Inflation correction of long-overdue receivables.
	InflationEnabled() bool
	MinInflationOverdueDays() int
	InflationRate(since time.Time) decimal.Decimal

	CardTaxResponsible() CardTaxResponsible
}

// Strategy books ledger entries for one billing plan. Implementations
// append transactions to the invoice and never mutate anything else.
type Strategy interface {
	Method() string

	OnCreated(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error
	OnUpdated(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error
	OnCanceled(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error
	OnPaid(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error
	OnDuplicatedPayment(inv *invoice.Invoice, at time.Time, duplicatedTotalPaid types.Money, eventID uuid.UUID) error
	OnCardPayment(inv *invoice.Invoice, at time.Time, cardTax types.Money, eventID uuid.UUID) error
	OnTransfer(inv *invoice.Invoice, at, transferDate time.Time, eventID uuid.UUID) error
	OnTaxAdjustment(inv *invoice.Invoice, at time.Time, newRate decimal.Decimal, eventID uuid.UUID) error

	OnReEnrollment(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error
	OnNewEnrollmentByPayerDocument(inv *invoice.Invoice, at time.Time, enrollmentID id.EnrollmentID, eventID uuid.UUID) error
	OnNewInvoiceByPayerDocument(inv *invoice.Invoice, at time.Time, invoiceCode string, eventID uuid.UUID) error
	OnCancelReEnrollment(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error

	OnReverseCancellation(inv *invoice.Invoice, eventID uuid.UUID) error
	OnReverseInstitutionPayment(inv *invoice.Invoice, eventID uuid.UUID) error

	// WriteTax rebooks the platform tax pair on an invoice whose tax
	// entries were booked at zero. Fails when a valid tax entry already
	// exists or there is nothing to tax.
	WriteTax(inv *invoice.Invoice, eventID uuid.UUID) error
}

// Registry maps billing plans to their strategy.
type Registry map[invoice.PlanType]Strategy

// For returns the strategy registered for the plan.
func (r Registry) For(plan invoice.PlanType) (Strategy, error) {
	s, ok := r[plan]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	return s, nil
}

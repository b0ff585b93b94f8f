package strategy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/edupay/billing/id"
	"github.com/edupay/billing/invoice"
	"github.com/edupay/billing/types"
)

// Passthrough serves the gateway plan: the platform only brokers the
// charge, no receivable is guaranteed and no ledger entry is ever
// booked.
type Passthrough struct{}

// NewPassthrough builds the gateway-plan strategy.
func NewPassthrough() *Passthrough { return &Passthrough{} }

func (*Passthrough) Method() string { return "gateway" }

func (*Passthrough) OnCreated(*invoice.Invoice, time.Time, uuid.UUID) error  { return nil }
func (*Passthrough) OnUpdated(*invoice.Invoice, time.Time, uuid.UUID) error  { return nil }
func (*Passthrough) OnCanceled(*invoice.Invoice, time.Time, uuid.UUID) error { return nil }
func (*Passthrough) OnPaid(*invoice.Invoice, time.Time, uuid.UUID) error     { return nil }

func (*Passthrough) OnDuplicatedPayment(*invoice.Invoice, time.Time, types.Money, uuid.UUID) error {
	return nil
}

func (*Passthrough) OnCardPayment(*invoice.Invoice, time.Time, types.Money, uuid.UUID) error {
	return nil
}

func (*Passthrough) OnTransfer(*invoice.Invoice, time.Time, time.Time, uuid.UUID) error {
	return nil
}

func (*Passthrough) OnTaxAdjustment(*invoice.Invoice, time.Time, decimal.Decimal, uuid.UUID) error {
	return nil
}

func (*Passthrough) OnReEnrollment(*invoice.Invoice, time.Time, uuid.UUID) error { return nil }

func (*Passthrough) OnNewEnrollmentByPayerDocument(*invoice.Invoice, time.Time, id.EnrollmentID, uuid.UUID) error {
	return nil
}

func (*Passthrough) OnNewInvoiceByPayerDocument(*invoice.Invoice, time.Time, string, uuid.UUID) error {
	return nil
}

func (*Passthrough) OnCancelReEnrollment(*invoice.Invoice, time.Time, uuid.UUID) error { return nil }

func (*Passthrough) OnReverseCancellation(*invoice.Invoice, uuid.UUID) error       { return nil }
func (*Passthrough) OnReverseInstitutionPayment(*invoice.Invoice, uuid.UUID) error { return nil }
func (*Passthrough) WriteTax(*invoice.Invoice, uuid.UUID) error                    { return nil }

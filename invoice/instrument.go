package invoice

import (
	"time"

	"github.com/google/uuid"

	"github.com/edupay/billing/id"
	"github.com/edupay/billing/types"
)

// InstrumentState is the lifecycle state of a payment instrument.
// Paid, Canceled and Expired are terminal; a retry issues a new
// instrument rather than resurrecting an old one. The single exception
// is RollbackCancel on an institution-paid instrument.
type InstrumentState string

const (
	StateCreating      InstrumentState = "creating"
	StateOpen          InstrumentState = "open"
	StatePending       InstrumentState = "pending"
	StatePaid          InstrumentState = "paid"
	StatePartiallyPaid InstrumentState = "partially_paid"
	StateCanceled      InstrumentState = "canceled"
	StateExpired       InstrumentState = "expired"
	StateError         InstrumentState = "error"
)

// ProcessorType names the external payment processor an instrument is
// issued against. Processors register with the gateway factory by name.
type ProcessorType string

// ProcessorLocal is the in-process processor used for at-institution
// payments and cancellation placeholders; it never leaves the platform.
const ProcessorLocal ProcessorType = "local"

// PaymentMethod records how an instrument was settled.
type PaymentMethod string

const (
	MethodBankSlip    PaymentMethod = "bank_slip"
	MethodPix         PaymentMethod = "pix"
	MethodCreditCard  PaymentMethod = "credit_card"
	MethodInstitution PaymentMethod = "institution"
)

// CancelReason classifies why an instrument was canceled.
type CancelReason string

const (
	ReasonDuplicated                = CancelReason("invoice_duplicated")
	ReasonUpdated                   = CancelReason("invoice_updated")
	ReasonPaidAtInstitution         = CancelReason("paid_at_institution")
	ReasonExpiredPaidAtInstitution  = CancelReason("expired_paid_at_institution")
	ReasonProcessorUpdated          = CancelReason("processor_updated")
	ReasonManual                    = CancelReason("manual")
	ReasonEnrollmentCanceled        = CancelReason("enrollment_canceled")
	ReasonRetainedByReEnrollment    = CancelReason("retained_by_re_enrollment")
)

// Instrument is one processor-facing charge issued against an invoice.
// Identity and issue-time snapshots (payer, items, fine, discounts) are
// immutable; state changes only through the transition methods below.
type Instrument struct {
	ID        id.ChargeID     `json:"id" bson:"_id"`
	Processor ProcessorType   `json:"processor" bson:"processor"`
	AccountID uuid.UUID       `json:"account_id" bson:"account_id"`
	State     InstrumentState `json:"state" bson:"state"`
	RemoteID  string          `json:"remote_id,omitempty" bson:"remote_id,omitempty"`

	DueDate          time.Time `json:"due_date" bson:"due_date"`
	EffectiveDueDate time.Time `json:"effective_due_date" bson:"effective_due_date"`

	// Charges is the surcharge added on top of the item total, e.g.
	// accumulated fines rolled into a duplicate.
	Charges types.Money `json:"charges" bson:"charges"`

	// Issue-time snapshots.
	Payer           Payer                  `json:"payer" bson:"payer"`
	ReferencePeriod string                 `json:"reference_period" bson:"reference_period"`
	Items           []LineItem             `json:"items" bson:"items"`
	Fine            *FinePolicy            `json:"fine,omitempty" bson:"fine,omitempty"`
	Discounts       []EarlyPaymentDiscount `json:"discounts,omitempty" bson:"discounts,omitempty"`

	// Captured payment facts.
	PaymentDate        *time.Time    `json:"payment_date,omitempty" bson:"payment_date,omitempty"`
	GatewayPaymentDate *time.Time    `json:"gateway_payment_date,omitempty" bson:"gateway_payment_date,omitempty"`
	TotalPaid          types.Money   `json:"total_paid" bson:"total_paid"`
	FeesPaid           types.Money   `json:"fees_paid" bson:"fees_paid"`
	Commission         types.Money   `json:"commission" bson:"commission"`
	Method             PaymentMethod `json:"method,omitempty" bson:"method,omitempty"`
	EffectiveDiscount  types.Money   `json:"effective_discount" bson:"effective_discount"`
	EffectiveFine      types.Money   `json:"effective_fine" bson:"effective_fine"`
	CreditCardTax      types.Money   `json:"credit_card_tax" bson:"credit_card_tax"`

	// PaymentShortfall records how far the captured amount fell short
	// of the expected total at payment time, negative when it did.
	PaymentShortfall types.Money `json:"payment_shortfall" bson:"payment_shortfall"`

	// Error capture from the processor.
	Errors      []string `json:"errors,omitempty" bson:"errors,omitempty"`
	ErrorStatus int      `json:"error_status,omitempty" bson:"error_status,omitempty"`
	RawError    string   `json:"raw_error,omitempty" bson:"raw_error,omitempty"`

	CancelReason CancelReason `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`
	CancelDate   *time.Time   `json:"cancel_date,omitempty" bson:"cancel_date,omitempty"`

	types.Entity `bson:",inline"`
}

// InstrumentParams carries everything needed to issue an instrument.
type InstrumentParams struct {
	Processor        ProcessorType
	AccountID        uuid.UUID
	DueDate          time.Time
	EffectiveDueDate time.Time
	Charges          types.Money
	Payer            Payer
	ReferencePeriod  string
	Items            []LineItem
	Fine             *FinePolicy
	Discounts        []EarlyPaymentDiscount
	IssuedAt         time.Time
}

func newInstrument(p InstrumentParams) *Instrument {
	items := make([]LineItem, len(p.Items))
	copy(items, p.Items)
	discounts := make([]EarlyPaymentDiscount, len(p.Discounts))
	copy(discounts, p.Discounts)

	return &Instrument{
		ID:               id.NewChargeID(),
		Processor:        p.Processor,
		AccountID:        p.AccountID,
		State:            StateCreating,
		DueDate:          p.DueDate,
		EffectiveDueDate: p.EffectiveDueDate,
		Charges:          p.Charges,
		Payer:            p.Payer,
		ReferencePeriod:  p.ReferencePeriod,
		Items:            items,
		Fine:             p.Fine,
		Discounts:        discounts,
		Entity:           types.NewEntityAt(p.IssuedAt),
	}
}

// Open marks the instrument live with the processor.
func (i *Instrument) Open(remoteID string, at time.Time) {
	i.State = StateOpen
	if remoteID != "" {
		i.RemoteID = remoteID
	}
	i.TouchAt(at)
}

// Pending marks the instrument awaiting external confirmation.
func (i *Instrument) Pending(remoteID string, at time.Time) {
	i.State = StatePending
	if remoteID != "" {
		i.RemoteID = remoteID
	}
	i.TouchAt(at)
}

// Pay captures the payment facts and moves the instrument to Paid.
// Returns ErrAlreadyPaid when already settled.
func (i *Instrument) Pay(paymentDate time.Time, totalPaid, feesPaid, commission types.Money,
	method PaymentMethod, gatewayDate time.Time, effectiveDiscount, effectiveFine types.Money) error {
	if i.State == StatePaid {
		return ErrAlreadyPaid
	}

	pd := paymentDate.UTC()
	gd := gatewayDate.UTC()
	i.State = StatePaid
	i.PaymentDate = &pd
	i.GatewayPaymentDate = &gd
	i.TotalPaid = totalPaid
	i.FeesPaid = feesPaid
	i.Commission = commission
	i.Method = method
	i.EffectiveDiscount = effectiveDiscount
	i.EffectiveFine = effectiveFine
	i.TouchAt(gd)

	return nil
}

// Cancel records the cancellation reason and date. Returns
// ErrAlreadyCanceled on a repeat attempt.
func (i *Instrument) Cancel(reason CancelReason, at time.Time) error {
	if i.State == StateCanceled {
		return ErrAlreadyCanceled
	}

	at = at.UTC()
	i.State = StateCanceled
	i.CancelReason = reason
	i.CancelDate = &at
	i.TouchAt(at)

	return nil
}

// CancelInstitutionPayment cancels a settled at-institution payment.
// No-op for any other instrument.
func (i *Instrument) CancelInstitutionPayment(reason CancelReason, at time.Time) {
	if i.State != StatePaid || i.Method != MethodInstitution {
		return
	}

	_ = i.Cancel(reason, at)
}

// RollbackCancel reverses one cancellation, restoring the pre-cancel
// state. Only the institution-payment reversal path calls this.
func (i *Instrument) RollbackCancel(at time.Time) {
	if i.State != StateCanceled {
		return
	}

	if i.PaymentDate != nil {
		i.State = StatePaid
	} else {
		i.State = StateOpen
	}
	i.CancelReason = ""
	i.CancelDate = nil
	i.TouchAt(at)
}

// Expire moves the instrument to Expired. Idempotent.
func (i *Instrument) Expire(at time.Time) {
	if i.State == StateExpired {
		return
	}
	i.State = StateExpired
	i.TouchAt(at)
}

// RecordError appends processor errors with the raw payload and tags
// the instrument; its identity is preserved for audit.
func (i *Instrument) RecordError(errs []string, status int, raw string, at time.Time) {
	i.Errors = append(i.Errors, errs...)
	i.ErrorStatus = status
	i.RawError = raw
	i.State = StateError
	i.TouchAt(at)
}

// SetPaymentShortfall records the gap between the expected total and
// the amount actually captured.
func (i *Instrument) SetPaymentShortfall(expected, paid types.Money) {
	i.PaymentShortfall = paid.Subtract(expected)
}

// OriginalTotal is the amount the instrument asked for at issue time:
// items net of fixed discounts, plus rolled-in charges.
func (i *Instrument) OriginalTotal() types.Money {
	return TotalItems(i.Items).Subtract(TotalFixedDiscount(i.Items)).Add(i.Charges)
}

// IsPaid reports whether the instrument settled.
func (i *Instrument) IsPaid() bool { return i.State == StatePaid }

// IsLive reports whether the instrument blocks issuing a new one.
// Creating, Canceled and Error instruments do not.
func (i *Instrument) IsLive() bool {
	switch i.State {
	case StateCreating, StateCanceled, StateError:
		return false
	default:
		return true
	}
}

// IsOverdue reports whether the instrument is unpaid past its
// effective due date.
func (i *Instrument) IsOverdue(today time.Time) bool {
	switch i.State {
	case StatePaid, StateCanceled:
		return false
	}
	return today.After(i.EffectiveDueDate)
}

// UpdatePayerPhone changes only the payer's phone number; everything
// else on the issued charge is already with the processor.
func (i *Instrument) UpdatePayerPhone(phone string) {
	i.Payer.Phone = phone
}

package invoice

import (
	"time"

	"github.com/google/uuid"

	"github.com/edupay/billing/id"
	"github.com/edupay/billing/types"
)

// Side identifies which party's books a transaction affects.
type Side string

const (
	// SideInstitution is the school's side of the ledger.
	SideInstitution Side = "institution"

	// SidePlatform is the platform's side of the ledger.
	SidePlatform Side = "platform"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	// Creation entries.
	TypeInstitutionItem      TransactionType = "institution_item"
	TypeFixedDiscount        TransactionType = "fixed_discount"
	TypeEarlyPaymentDiscount TransactionType = "early_payment_discount"
	TypePlatformTax          TransactionType = "platform_tax"
	TypeTaxAdjustment        TransactionType = "tax_adjustment"

	// Settlement entries.
	TypeTransfer       TransactionType = "transfer"
	TypeRetention      TransactionType = "retention"
	TypeCancelTransfer TransactionType = "cancel_transfer"

	// Cancellation entries.
	TypeCancellationBeforeTransfer TransactionType = "cancellation_before_transfer"
	TypeCancellationAfterTransfer  TransactionType = "cancellation_after_transfer"
	TypeCancellationCharges        TransactionType = "cancellation_charges"
	TypeReverseCancellation        TransactionType = "reverse_cancellation"

	// Payment entries.
	TypeInstitutionPaymentBeforeTransfer TransactionType = "institution_payment_before_transfer"
	TypeInstitutionPaymentAfterTransfer  TransactionType = "institution_payment_after_transfer"
	TypeInstitutionPaymentCharges        TransactionType = "institution_payment_charges"
	TypeReverseInstitutionPayment        TransactionType = "reverse_institution_payment"
	TypePlatformPayment                  TransactionType = "platform_payment"
	TypePlatformPaymentCharges           TransactionType = "platform_payment_charges"
	TypeDuplicatedPlatformPayment        TransactionType = "duplicated_platform_payment"
	TypePaymentDifference                TransactionType = "payment_difference"
	TypePaymentDifferenceCharges         TransactionType = "payment_difference_charges"
	TypeBankFee                          TransactionType = "bank_fee"
	TypeBankFeeProvision                 TransactionType = "bank_fee_provision"
	TypeCreditCardTax                    TransactionType = "credit_card_tax"

	// Retention and payback entries.
	TypeReEnrollment                         TransactionType = "re_enrollment"
	TypeReEnrollmentCharges                  TransactionType = "re_enrollment_charges"
	TypeReEnrollmentCanceled                 TransactionType = "re_enrollment_canceled"
	TypeReEnrollmentChargesCanceled          TransactionType = "re_enrollment_charges_canceled"
	TypeReEnrollmentPayback                  TransactionType = "re_enrollment_payback"
	TypeNewEnrollmentByPayerDocument         TransactionType = "new_enrollment_by_payer_document"
	TypeNewEnrollmentByPayerDocumentCharges  TransactionType = "new_enrollment_by_payer_document_charges"
	TypeNewEnrollmentByPayerDocumentPayback  TransactionType = "new_enrollment_by_payer_document_payback"
	TypeNewInvoiceByPayerDocument            TransactionType = "new_invoice_by_payer_document"
	TypeNewInvoiceByPayerDocumentCharges     TransactionType = "new_invoice_by_payer_document_charges"
	TypeNewInvoiceByPayerDocumentPayback     TransactionType = "new_invoice_by_payer_document_payback"

	// Inflation entries.
	TypeInflationCharges          TransactionType = "inflation_charges"
	TypeInflationChargesAllowance TransactionType = "inflation_charges_allowance"
)

// RetentionTypes lists the retention-causing transaction types.
var RetentionTypes = []TransactionType{
	TypeReEnrollment,
	TypeNewEnrollmentByPayerDocument,
	TypeNewInvoiceByPayerDocument,
}

// PaybackFor maps a retention-causing type to its compensating payback
// type. A payback is only ever written against one of these.
var PaybackFor = map[TransactionType]TransactionType{
	TypeReEnrollment:                 TypeReEnrollmentPayback,
	TypeNewEnrollmentByPayerDocument: TypeNewEnrollmentByPayerDocumentPayback,
	TypeNewInvoiceByPayerDocument:    TypeNewInvoiceByPayerDocumentPayback,
}

// Transaction is one atomic, append-only monetary movement. Cancellation
// is a flag flip, never a removal, so the history stays auditable.
// ReferenceID links derived entries (charges, reversals, paybacks) to
// the entry that caused them.
type Transaction struct {
	ID          id.TransactionID `json:"id" bson:"_id"`
	Method      string           `json:"method" bson:"method"`
	Value       types.Money      `json:"value" bson:"value"`
	Type        TransactionType  `json:"type" bson:"type"`
	OccurredAt  time.Time        `json:"occurred_at" bson:"occurred_at"`
	Side        Side             `json:"side" bson:"side"`
	EventID     uuid.UUID        `json:"event_id" bson:"event_id"`
	Canceled    bool             `json:"canceled" bson:"canceled"`
	ReferenceID id.TransactionID `json:"reference_id,omitempty" bson:"reference_id,omitempty"`

	// Props carries descriptive metadata recorded at write time, e.g.
	// the rate applied or the original occurrence date of a reversal.
	Props map[string]any `json:"props,omitempty" bson:"props,omitempty"`

	types.Entity `bson:",inline"`
}

// NewTransaction creates a ledger entry with a fresh transaction ID.
func NewTransaction(method string, value types.Money, typ TransactionType,
	occurredAt time.Time, side Side, eventID uuid.UUID) *Transaction {
	return &Transaction{
		ID:         id.NewTransactionID(),
		Method:     method,
		Value:      value,
		Type:       typ,
		OccurredAt: occurredAt.UTC(),
		Side:       side,
		EventID:    eventID,
		Entity:     types.NewEntityAt(occurredAt),
	}
}

// WithReference links this entry to the one it derives from and returns
// the entry for chaining.
func (t *Transaction) WithReference(ref id.TransactionID) *Transaction {
	t.ReferenceID = ref
	return t
}

// SetProp records a descriptive metadata key.
func (t *Transaction) SetProp(key string, value any) *Transaction {
	if t.Props == nil {
		t.Props = make(map[string]any)
	}
	t.Props[key] = value
	return t
}

// IsRetention reports whether the entry is a retention-causing type.
func (t *Transaction) IsRetention() bool {
	for _, rt := range RetentionTypes {
		if t.Type == rt {
			return true
		}
	}
	return false
}

// SumSide totals the signed values of entries on the given side.
// Canceled entries are skipped. An empty input sums to zero in the
// default currency.
func SumSide(transactions []*Transaction, side Side) types.Money {
	total := types.Zero(types.DefaultCurrency)
	for _, t := range transactions {
		if t.Canceled || t.Side != side {
			continue
		}
		total.Currency = t.Value.Currency
		total = total.Add(t.Value)
	}
	return total
}

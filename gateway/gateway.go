// Package gateway abstracts the external payment processors that issue
// and settle the platform's charges.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edupay/billing/id"
	"github.com/edupay/billing/invoice"
	"github.com/edupay/billing/types"
)

var (
	// ErrUnknownProcessor indicates no gateway is registered for the
	// requested processor.
	ErrUnknownProcessor = errors.New("gateway: unknown processor")

	// ErrChargeNotFound indicates the processor does not know the
	// charge.
	ErrChargeNotFound = errors.New("gateway: charge not found")
)

// Account is one processor account an institution issues charges
// through.
type Account struct {
	ID            uuid.UUID             `json:"id" bson:"_id"`
	InstitutionID id.InstitutionID      `json:"institution_id" bson:"institution_id"`
	Processor     invoice.ProcessorType `json:"processor" bson:"processor"`
	Name          string                `json:"name,omitempty" bson:"name,omitempty"`
	Default       bool                  `json:"default" bson:"default"`
}

// NewAccount creates an account for the given processor.
func NewAccount(institutionID id.InstitutionID, processor invoice.ProcessorType, name string, dflt bool) Account {
	return Account{
		ID:            uuid.New(),
		InstitutionID: institutionID,
		Processor:     processor,
		Name:          name,
		Default:       dflt,
	}
}

// ChargeRequest carries everything a processor needs to issue a charge.
type ChargeRequest struct {
	InvoiceID id.InvoiceID
	ChargeID  id.ChargeID
	Payer     invoice.Payer
	DueDate   time.Time
	Amount    types.Money
	Fine      *invoice.FinePolicy
	Discounts []invoice.EarlyPaymentDiscount
}

// CreatedCharge is the processor's answer to an issued charge.
type CreatedCharge struct {
	RemoteID   string
	PaymentURL string
	Barcode    string
}

// PaymentDetails is what the processor reports about a settled charge.
type PaymentDetails struct {
	TotalPaid          types.Money
	FeesPaid           types.Money
	Commission         types.Money
	CreditCardTax      types.Money
	Method             invoice.PaymentMethod
	PaymentDate        time.Time
	GatewayPaymentDate time.Time
}

// Gateway is one payment processor integration.
type Gateway interface {
	Processor() invoice.ProcessorType
	CreateCharge(ctx context.Context, account Account, req ChargeRequest) (*CreatedCharge, error)
	CancelCharge(ctx context.Context, account Account, remoteID string) error
	PaymentDetails(ctx context.Context, account Account, remoteID string) (*PaymentDetails, error)
}

// Error is a processor-side failure with the transport status and the
// messages the processor returned. Kept verbatim so the instrument can
// record them.
type Error struct {
	Processor  invoice.ProcessorType
	StatusCode int
	Messages   []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Processor, e.StatusCode,
		strings.Join(e.Messages, "; "))
}

// IsGatewayError reports whether err came from a processor and, if so,
// returns it.
func IsGatewayError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Factory resolves the gateway for a processor.
type Factory struct {
	gateways map[invoice.ProcessorType]Gateway
}

// NewFactory registers the given gateways.
func NewFactory(gateways ...Gateway) *Factory {
	f := &Factory{gateways: make(map[invoice.ProcessorType]Gateway, len(gateways))}
	for _, g := range gateways {
		f.gateways[g.Processor()] = g
	}
	return f
}

// Register adds or replaces the gateway for its processor.
func (f *Factory) Register(g Gateway) { f.gateways[g.Processor()] = g }

// For returns the gateway registered for the processor.
func (f *Factory) For(processor invoice.ProcessorType) (Gateway, error) {
	g, ok := f.gateways[processor]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, processor)
	}
	return g, nil
}

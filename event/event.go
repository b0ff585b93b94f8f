// Package event defines the invoice lifecycle event log.
//
// Every state change on an invoice appends an Event carrying a fresh
// UUID. Ledger transactions written during that change reference the
// same UUID, so the set of entries belonging to one business occurrence
// can always be recovered and summed.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/edupay/billing/id"
	"github.com/edupay/billing/types"
)

// Type names an invoice lifecycle occurrence.
type Type string

const (
	TypeCreated               Type = "created"
	TypeClosed                Type = "closed"
	TypeUpdated               Type = "updated"
	TypeCanceled              Type = "canceled"
	TypeDuplicated            Type = "duplicated"
	TypeExpired               Type = "expired"
	TypePaid                  Type = "paid"
	TypePaidAtInstitution     Type = "paid_at_institution"
	TypePaidDuplicated        Type = "paid_duplicated"
	TypeReEnrollment          Type = "re_enrollment"
	TypePayback               Type = "payback"
	TypeCancelReEnrollment    Type = "cancel_re_enrollment"
	TypeTransferred           Type = "transferred"
	TypeRetained              Type = "retained"
	TypeLiquidated            Type = "liquidated"
	TypeLiquidationDuplicated Type = "liquidation_duplicated"
	TypeTaxChanged            Type = "tax_changed"
	TypeInflationApplied      Type = "inflation_applied"
	TypeErrored               Type = "errored"
)

// Event is one occurrence in an invoice's history. The EventID ties
// ledger transactions to the occurrence that produced them; Balance is
// the institution-side net of those transactions at write time.
type Event struct {
	EventID    uuid.UUID    `json:"event_id" bson:"event_id"`
	InvoiceID  id.InvoiceID `json:"invoice_id" bson:"invoice_id"`
	Type       Type         `json:"type" bson:"type"`
	OccurredAt time.Time    `json:"occurred_at" bson:"occurred_at"`
	Balance    types.Money  `json:"balance" bson:"balance"`

	// Description carries the human-readable reason recorded with the
	// occurrence, e.g. the cancellation reason.
	Description string `json:"description,omitempty" bson:"description,omitempty"`

	// Reference points at a related entity when one exists: the charge
	// that was paid, the duplicate invoice, the enrollment retained.
	Reference id.AnyID `json:"reference,omitempty" bson:"reference,omitempty"`
}

// New creates an Event with a fresh UUID.
func New(invoiceID id.InvoiceID, typ Type, occurredAt time.Time) Event {
	return Event{
		EventID:    uuid.New(),
		InvoiceID:  invoiceID,
		Type:       typ,
		OccurredAt: occurredAt.UTC(),
	}
}

// Sink receives lifecycle events as they are appended. Implementations
// must not block; slow consumers should buffer internally.
type Sink interface {
	Publish(ev Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// BufferSink accumulates events in memory. Intended for tests and for
// batch consumers that drain between operations.
type BufferSink struct {
	Events []Event
}

func (b *BufferSink) Publish(ev Event) { b.Events = append(b.Events, ev) }

// Drain returns the buffered events and resets the buffer.
func (b *BufferSink) Drain() []Event {
	out := b.Events
	b.Events = nil
	return out
}

// ByType filters the buffered events by type.
func (b *BufferSink) ByType(typ Type) []Event {
	var out []Event
	for _, ev := range b.Events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

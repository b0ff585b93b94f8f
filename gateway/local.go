package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/edupay/billing/invoice"
)

// Local is the in-process gateway behind at-institution payments and
// cancellation placeholders. It never talks to a processor; charges
// are acknowledged immediately and live only in memory.
type Local struct {
	mu      sync.Mutex
	charges map[string]ChargeRequest
	settled map[string]PaymentDetails
}

// NewLocal creates the in-process gateway.
func NewLocal() *Local {
	return &Local{
		charges: make(map[string]ChargeRequest),
		settled: make(map[string]PaymentDetails),
	}
}

func (*Local) Processor() invoice.ProcessorType { return invoice.ProcessorLocal }

func (l *Local) CreateCharge(_ context.Context, _ Account, req ChargeRequest) (*CreatedCharge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remoteID := fmt.Sprintf("local-%s", uuid.NewString())
	l.charges[remoteID] = req

	return &CreatedCharge{RemoteID: remoteID}, nil
}

func (l *Local) CancelCharge(_ context.Context, _ Account, remoteID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.charges[remoteID]; !ok {
		return ErrChargeNotFound
	}
	delete(l.charges, remoteID)
	delete(l.settled, remoteID)

	return nil
}

func (l *Local) PaymentDetails(_ context.Context, _ Account, remoteID string) (*PaymentDetails, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	details, ok := l.settled[remoteID]
	if !ok {
		return nil, ErrChargeNotFound
	}
	return &details, nil
}

// Settle records a payment against a local charge so PaymentDetails
// can report it. Used by conciliation flows and tests.
func (l *Local) Settle(remoteID string, details PaymentDetails) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.charges[remoteID]; !ok {
		return ErrChargeNotFound
	}
	l.settled[remoteID] = details

	return nil
}

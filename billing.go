package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/edupay/billing/clock"
	"github.com/edupay/billing/event"
	"github.com/edupay/billing/gateway"
	"github.com/edupay/billing/id"
	"github.com/edupay/billing/invoice"
	"github.com/edupay/billing/store"
	"github.com/edupay/billing/strategy"
	"github.com/edupay/billing/types"
)

// Manager orchestrates the invoice lifecycle: it loads aggregates from
// the store, applies the lifecycle operation, books the ledger entries
// through the plan's strategy, persists, and publishes the event.
type Manager struct {
	store    store.Store
	settings strategy.Settings
	registry strategy.Registry
	gateways *gateway.Factory
	sink     event.Sink
	clk      clock.Clock
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock sets the time source. Tests use a fixed clock.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clk = clk }
}

// WithSink sets the event sink.
func WithSink(sink event.Sink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithGateways sets the processor gateway factory.
func WithGateways(f *gateway.Factory) Option {
	return func(m *Manager) { m.gateways = f }
}

// WithRegistry replaces the strategy registry.
func WithRegistry(r strategy.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// New creates a Manager on the given store and settings. By default it
// runs on the system clock, discards events, and registers the
// zero-default and gateway strategies plus the local processor.
func New(st store.Store, settings strategy.Settings, opts ...Option) *Manager {
	m := &Manager{
		store:    st,
		settings: settings,
		sink:     event.NopSink{},
		clk:      clock.NewSystem(nil),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.gateways == nil {
		m.gateways = gateway.NewFactory(gateway.NewLocal())
	}
	if m.registry == nil {
		m.registry = strategy.Registry{
			invoice.PlanZeroDefault: strategy.NewZeroDefault(m.settings, m.clk),
			invoice.PlanGateway:     strategy.NewPassthrough(),
		}
	}
	return m
}

// Store exposes the underlying store for read paths.
func (m *Manager) Store() store.Store { return m.store }

func (m *Manager) strategyFor(inv *invoice.Invoice) (strategy.Strategy, error) {
	return m.registry.For(inv.Plan)
}

func (m *Manager) publish(inv *invoice.Invoice, ev event.Event) {
	ev.Balance = inv.EventBalance(ev.EventID)
	m.sink.Publish(ev)
}

// ──────────────────────────────────────────────────
// Creation and closing
// ──────────────────────────────────────────────────

// Create validates and opens an invoice and books its creation entries.
func (m *Manager) Create(ctx context.Context, p invoice.Params) (*invoice.Invoice, error) {
	inv, err := invoice.New(p, m.clk)
	if err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypeCreated, m.clk.Now())
	if err := strat.OnCreated(inv, ev.OccurredAt, ev.EventID); err != nil {
		return nil, err
	}

	inv.AppendLog("create", p, ev.OccurredAt)
	if err := m.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	m.logger.InfoContext(ctx, "invoice created",
		"invoice_id", inv.ID, "institution_id", inv.InstitutionID, "plan", inv.Plan)

	return inv, nil
}

// Close issues a payment instrument through the institution's default
// gateway account and marks the invoice closed.
func (m *Manager) Close(ctx context.Context, invoiceID id.InvoiceID) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	account, err := m.accountFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	ins, err := inv.Close(account.Processor, account.ID, m.clk)
	if err != nil {
		return nil, err
	}

	gw, err := m.gateways.For(account.Processor)
	if err != nil {
		return nil, err
	}

	created, err := gw.CreateCharge(ctx, *account, gateway.ChargeRequest{
		InvoiceID: inv.ID,
		ChargeID:  ins.ID,
		Payer:     inv.Payer,
		DueDate:   ins.DueDate,
		Amount:    ins.OriginalTotal(),
		Fine:      ins.Fine,
		Discounts: ins.Discounts,
	})
	if err != nil {
		if ge, ok := gateway.IsGatewayError(err); ok {
			ins.RecordError(ge.Messages, ge.StatusCode, ge.Error(), m.clk.Now())
			inv.Status = invoice.StatusError
			if uerr := m.store.UpdateInvoice(ctx, inv); uerr != nil {
				return nil, uerr
			}
		}
		return nil, err
	}
	ins.Open(created.RemoteID, m.clk.Now())

	ev := event.New(inv.ID, event.TypeClosed, m.clk.Now())
	ev.Reference = id.AnyID(ins.ID)
	inv.AppendLog("close", nil, ev.OccurredAt)

	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	m.logger.InfoContext(ctx, "invoice closed",
		"invoice_id", inv.ID, "charge_id", ins.ID, "processor", account.Processor)

	return inv, nil
}

func (m *Manager) accountFor(ctx context.Context, inv *invoice.Invoice) (*gateway.Account, error) {
	account, err := m.store.GetDefaultAccount(ctx, inv.InstitutionID)
	if err == nil {
		return account, nil
	}
	if IsNotFound(err) {
		// Institutions without a processor account issue locally.
		local := gateway.NewAccount(inv.InstitutionID, invoice.ProcessorLocal, "local", true)
		return &local, nil
	}
	return nil, err
}

// ──────────────────────────────────────────────────
// Update
// ──────────────────────────────────────────────────

// Update replaces the billable content of an unpaid invoice and
// rebooks its creation entries.
func (m *Manager) Update(ctx context.Context, invoiceID id.InvoiceID, items []invoice.LineItem,
	fine *invoice.FinePolicy, discounts []invoice.EarlyPaymentDiscount, dueDate time.Time) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := inv.Update(items, fine, discounts, dueDate, m.clk); err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypeUpdated, m.clk.Now())
	if err := strat.OnUpdated(inv, ev.OccurredAt, ev.EventID); err != nil {
		return nil, err
	}

	inv.AppendLog("update", items, ev.OccurredAt)
	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	return inv, nil
}

// UpdatePayer replaces or amends the invoice's payer.
func (m *Manager) UpdatePayer(ctx context.Context, invoiceID id.InvoiceID, payer invoice.Payer) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := inv.UpdatePayer(payer, m.clk.Now()); err != nil {
		return nil, err
	}

	inv.AppendLog("update_payer", payer, m.clk.Now())
	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

// Cancel cancels the invoice and its instruments, books the
// cancellation entries, and liquidates the invoice when no funds moved
// yet.
func (m *Manager) Cancel(ctx context.Context, invoiceID id.InvoiceID, reason invoice.CancelReason) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	m.applyInflationSnapshot(inv)

	if err := m.cancelRemoteCharges(ctx, inv); err != nil {
		return nil, err
	}
	if err := inv.Cancel(reason, m.clk); err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypeCanceled, m.clk.Now())
	ev.Description = string(reason)
	if err := strat.OnCanceled(inv, ev.OccurredAt, ev.EventID); err != nil {
		return nil, err
	}

	if !inv.HasTransfer() && !inv.HasRetention() {
		inv.Liquidate(invoice.LiquidatedByCancellation, ev.OccurredAt, inv.EventBalance(ev.EventID))
	}

	inv.AppendLog("cancel", reason, ev.OccurredAt)
	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	m.logger.InfoContext(ctx, "invoice canceled", "invoice_id", inv.ID, "reason", reason)

	return inv, nil
}

func (m *Manager) cancelRemoteCharges(ctx context.Context, inv *invoice.Invoice) error {
	for _, ins := range inv.Instruments {
		if ins.RemoteID == "" || !ins.IsLive() {
			continue
		}
		account, err := m.store.GetAccount(ctx, ins.AccountID)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return err
		}
		gw, err := m.gateways.For(ins.Processor)
		if err != nil {
			return err
		}
		if err := gw.CancelCharge(ctx, *account, ins.RemoteID); err != nil {
			return fmt.Errorf("cancel charge %s: %w", ins.ID, err)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Duplication and expiry
// ──────────────────────────────────────────────────

// Duplicate reissues an overdue invoice with a new due date and the
// accumulated fine rolled into the new instrument.
func (m *Manager) Duplicate(ctx context.Context, invoiceID id.InvoiceID, newDueDate time.Time) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	account, err := m.accountFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	ins, err := inv.Duplicate(account.Processor, account.ID, newDueDate, m.clk)
	if err != nil {
		return nil, err
	}

	gw, err := m.gateways.For(account.Processor)
	if err != nil {
		return nil, err
	}
	created, err := gw.CreateCharge(ctx, *account, gateway.ChargeRequest{
		InvoiceID: inv.ID,
		ChargeID:  ins.ID,
		Payer:     inv.Payer,
		DueDate:   ins.DueDate,
		Amount:    ins.OriginalTotal(),
		Fine:      ins.Fine,
		Discounts: ins.Discounts,
	})
	if err != nil {
		return nil, err
	}
	ins.Open(created.RemoteID, m.clk.Now())

	ev := event.New(inv.ID, event.TypeDuplicated, m.clk.Now())
	ev.Reference = id.AnyID(ins.ID)
	inv.AppendLog("duplicate", newDueDate, ev.OccurredAt)

	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	return inv, nil
}

// Expire marks an instrument expired.
func (m *Manager) Expire(ctx context.Context, invoiceID id.InvoiceID, chargeID id.ChargeID) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := inv.Expire(chargeID, m.clk.Now()); err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypeExpired, m.clk.Now())
	ev.Reference = id.AnyID(chargeID)
	inv.AppendLog("expire", chargeID, ev.OccurredAt)

	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	return inv, nil
}

// RecordError captures a processor failure against an instrument.
func (m *Manager) RecordError(ctx context.Context, invoiceID id.InvoiceID, chargeID id.ChargeID,
	errs []string, status int, raw string) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := inv.RecordError(chargeID, errs, status, raw, m.clk.Now()); err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypeErrored, m.clk.Now())
	ev.Reference = id.AnyID(chargeID)

	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	m.logger.WarnContext(ctx, "invoice errored",
		"invoice_id", inv.ID, "charge_id", chargeID, "status", status)

	return inv, nil
}

// ──────────────────────────────────────────────────
// Payment
// ──────────────────────────────────────────────────

// PaymentNotice is what a processor callback reports about a settled
// charge.
type PaymentNotice struct {
	ChargeID           id.ChargeID
	PaymentDate        time.Time
	GatewayPaymentDate time.Time
	TotalPaid          types.Money
	FeesPaid           types.Money
	Commission         types.Money
	CreditCardTax      types.Money
	Method             invoice.PaymentMethod
	EffectiveDiscount  types.Money
	EffectiveFine      types.Money
}

// Pay settles a charge from a processor notice, reversing any
// cancellation or at-institution payment the notice beat, booking the
// payment entries and liquidating the invoice.
func (m *Manager) Pay(ctx context.Context, invoiceID id.InvoiceID, notice PaymentNotice) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypePaid, m.clk.Now())
	ev.Reference = id.AnyID(notice.ChargeID)

	if err := m.reverseSupersededSettlement(inv, strat, ev.EventID); err != nil {
		return nil, err
	}

	m.applyInflationSnapshot(inv)

	ins := inv.InstrumentByID(notice.ChargeID)
	if ins == nil {
		return nil, invoice.ErrInstrumentNotFound
	}
	ins.CreditCardTax = notice.CreditCardTax
	ins.SetPaymentShortfall(inv.TransferBase.Add(notice.CreditCardTax), notice.TotalPaid)

	if err := inv.Pay(notice.ChargeID, invoice.PaymentFacts{
		PaymentDate:        notice.PaymentDate,
		GatewayPaymentDate: notice.GatewayPaymentDate,
		TotalPaid:          notice.TotalPaid,
		FeesPaid:           notice.FeesPaid,
		Commission:         notice.Commission,
		Method:             notice.Method,
		EffectiveDiscount:  notice.EffectiveDiscount,
		EffectiveFine:      notice.EffectiveFine,
	}); err != nil {
		return nil, err
	}

	if err := strat.OnPaid(inv, ev.OccurredAt, ev.EventID); err != nil {
		return nil, err
	}

	m.liquidateByPayment(inv, notice.PaymentDate, notice.TotalPaid, invoice.LiquidatedByPayment)

	inv.AppendLog("pay", notice, ev.OccurredAt)
	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	m.logger.InfoContext(ctx, "invoice paid",
		"invoice_id", inv.ID, "charge_id", notice.ChargeID, "total_paid", notice.TotalPaid)

	return inv, nil
}

// PayAtConciliation settles a charge by pulling the payment details
// from its processor, for payments that never produced a callback.
func (m *Manager) PayAtConciliation(ctx context.Context, invoiceID id.InvoiceID, chargeID id.ChargeID) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	ins := inv.InstrumentByID(chargeID)
	if ins == nil {
		return nil, invoice.ErrInstrumentNotFound
	}

	account, err := m.store.GetAccount(ctx, ins.AccountID)
	if err != nil {
		return nil, err
	}
	gw, err := m.gateways.For(ins.Processor)
	if err != nil {
		return nil, err
	}
	details, err := gw.PaymentDetails(ctx, *account, ins.RemoteID)
	if err != nil {
		return nil, err
	}

	return m.Pay(ctx, invoiceID, PaymentNotice{
		ChargeID:           chargeID,
		PaymentDate:        details.PaymentDate,
		GatewayPaymentDate: details.GatewayPaymentDate,
		TotalPaid:          details.TotalPaid,
		FeesPaid:           details.FeesPaid,
		Commission:         details.Commission,
		CreditCardTax:      details.CreditCardTax,
		Method:             details.Method,
	})
}

// PayByCreditCard settles a card payment: the regular payment entries
// plus the card tax entries for whoever absorbs the tax.
func (m *Manager) PayByCreditCard(ctx context.Context, invoiceID id.InvoiceID, notice PaymentNotice) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypePaid, m.clk.Now())
	ev.Reference = id.AnyID(notice.ChargeID)

	if err := m.reverseSupersededSettlement(inv, strat, ev.EventID); err != nil {
		return nil, err
	}

	m.applyInflationSnapshot(inv)

	ins := inv.InstrumentByID(notice.ChargeID)
	if ins == nil {
		return nil, invoice.ErrInstrumentNotFound
	}
	ins.CreditCardTax = notice.CreditCardTax
	ins.SetPaymentShortfall(inv.TransferBase.Add(notice.CreditCardTax), notice.TotalPaid)

	if err := inv.Pay(notice.ChargeID, invoice.PaymentFacts{
		PaymentDate:        notice.PaymentDate,
		GatewayPaymentDate: notice.GatewayPaymentDate,
		TotalPaid:          notice.TotalPaid,
		FeesPaid:           notice.FeesPaid,
		Commission:         notice.Commission,
		Method:             invoice.MethodCreditCard,
		EffectiveDiscount:  notice.EffectiveDiscount,
		EffectiveFine:      notice.EffectiveFine,
	}); err != nil {
		return nil, err
	}

	if err := strat.OnCardPayment(inv, ev.OccurredAt, notice.CreditCardTax, ev.EventID); err != nil {
		return nil, err
	}

	// An institution-funded card tax keeps a residue open between the
	// sides, so the invoice stays live until the adjustment settles.
	if m.settings.CardTaxResponsible() != strategy.ResponsibleInstitution {
		m.liquidateByPayment(inv, notice.PaymentDate, notice.TotalPaid, invoice.LiquidatedByCardPayment)
	}

	inv.AppendLog("pay_by_credit_card", notice, ev.OccurredAt)
	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	return inv, nil
}

// PayAtInstitution records a payment the institution collected
// directly.
func (m *Manager) PayAtInstitution(ctx context.Context, invoiceID id.InvoiceID,
	paymentDate time.Time, totalPaid types.Money) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	m.applyInflationSnapshot(inv)

	if err := inv.PayAtInstitution(paymentDate, totalPaid, m.clk); err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypePaidAtInstitution, m.clk.Now())
	if err := strat.OnPaid(inv, ev.OccurredAt, ev.EventID); err != nil {
		return nil, err
	}

	m.liquidateByPayment(inv, paymentDate, totalPaid, invoice.LiquidatedByInstitutionPayment)

	inv.AppendLog("pay_at_institution", totalPaid, ev.OccurredAt)
	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	return inv, nil
}

// PayDuplicated books a second payment arriving on an already
// liquidated invoice. The money goes back to the payer; the entries
// keep the books straight meanwhile.
func (m *Manager) PayDuplicated(ctx context.Context, invoiceID id.InvoiceID,
	duplicatedTotalPaid types.Money) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypePaidDuplicated, m.clk.Now())
	if err := strat.OnDuplicatedPayment(inv, ev.OccurredAt, duplicatedTotalPaid, ev.EventID); err != nil {
		return nil, err
	}

	inv.AppendLog("pay_duplicated", duplicatedTotalPaid, ev.OccurredAt)
	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	return inv, nil
}

// reverseSupersededSettlement undoes the settlement a late payment
// notice beat: the cancellation of a canceled invoice, or an
// at-institution payment on the current instrument.
func (m *Manager) reverseSupersededSettlement(inv *invoice.Invoice, strat strategy.Strategy, eventID uuid.UUID) error {
	if inv.Status == invoice.StatusCanceled {
		if err := strat.OnReverseCancellation(inv, eventID); err != nil {
			return err
		}
		inv.Status = invoice.StatusClosed
		return nil
	}

	if cur := inv.CurrentInstrument(); cur != nil && cur.IsPaid() && cur.Method == invoice.MethodInstitution {
		if err := strat.OnReverseInstitutionPayment(inv, eventID); err != nil {
			return err
		}
		inv.RollbackCancelInstitutionPayments(m.clk.Now())
	}

	return nil
}

// liquidateByPayment liquidates when the captured amount covers the
// amount owed to the institution; a repeat settlement publishes a
// duplicated-liquidation event instead.
func (m *Manager) liquidateByPayment(inv *invoice.Invoice, paymentDate time.Time,
	totalPaid types.Money, reason invoice.LiquidationReason) {
	if totalPaid.LessThan(inv.TransferBase) {
		return
	}
	if inv.Liquidate(reason, paymentDate, totalPaid) {
		m.sink.Publish(event.New(inv.ID, event.TypeLiquidated, m.clk.Now()))
		return
	}
	m.sink.Publish(event.New(inv.ID, event.TypeLiquidationDuplicated, m.clk.Now()))
}

// RollbackCancelInstitutionPayments undoes the latest at-institution
// payment and its ledger entries.
func (m *Manager) RollbackCancelInstitutionPayments(ctx context.Context, invoiceID id.InvoiceID) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypeUpdated, m.clk.Now())
	if err := strat.OnReverseInstitutionPayment(inv, ev.EventID); err != nil {
		return nil, err
	}
	inv.RollbackCancelInstitutionPayments(m.clk.Now())

	inv.AppendLog("rollback_cancel_institution_payments", nil, ev.OccurredAt)
	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	return inv, nil
}

// ──────────────────────────────────────────────────
// Settlement runs
// ──────────────────────────────────────────────────

// Transfer books the settlement pair for every invoice whose transfer
// date falls on the given day. Failures are collected per invoice; the
// run continues.
func (m *Manager) Transfer(ctx context.Context, transferDate time.Time) error {
	invoices, err := m.store.ListInvoicesToTransferOn(ctx, transferDate)
	if err != nil {
		return err
	}

	var errs MultiError
	for _, inv := range invoices {
		if err := m.transferOne(ctx, inv, transferDate); err != nil {
			errs.Add(fmt.Errorf("invoice %s: %w", inv.ID, err))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (m *Manager) transferOne(ctx context.Context, inv *invoice.Invoice, transferDate time.Time) error {
	strat, err := m.strategyFor(inv)
	if err != nil {
		return err
	}

	typ := event.TypeTransferred
	if inv.Balance.IsPositive() {
		typ = event.TypeRetained
	}
	ev := event.New(inv.ID, typ, m.clk.Now())

	if err := strat.OnTransfer(inv, ev.OccurredAt, transferDate, ev.EventID); err != nil {
		return err
	}

	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return err
	}

	m.publish(inv, ev)
	return nil
}

// ──────────────────────────────────────────────────
// Retention and payback
// ──────────────────────────────────────────────────

// ReEnrollment retains the invoice's value against a re-enrollment of
// the same contract and liquidates the invoice.
func (m *Manager) ReEnrollment(ctx context.Context, invoiceID id.InvoiceID) (*invoice.Invoice, error) {
	return m.retain(ctx, invoiceID, event.TypeReEnrollment, "re_enrollment",
		func(strat strategy.Strategy, inv *invoice.Invoice, ev event.Event) error {
			return strat.OnReEnrollment(inv, ev.OccurredAt, ev.EventID)
		})
}

// NewEnrollmentByPayerDocument retains the invoice's value when the
// defaulting payer signs a new enrollment.
func (m *Manager) NewEnrollmentByPayerDocument(ctx context.Context, invoiceID id.InvoiceID,
	enrollmentID id.EnrollmentID) (*invoice.Invoice, error) {
	return m.retain(ctx, invoiceID, event.TypeReEnrollment, "new_enrollment_by_payer_document",
		func(strat strategy.Strategy, inv *invoice.Invoice, ev event.Event) error {
			return strat.OnNewEnrollmentByPayerDocument(inv, ev.OccurredAt, enrollmentID, ev.EventID)
		})
}

// NewInvoiceByPayerDocument retains the invoice's value when a new
// invoice is issued against the defaulting payer.
func (m *Manager) NewInvoiceByPayerDocument(ctx context.Context, invoiceID id.InvoiceID,
	invoiceCode string) (*invoice.Invoice, error) {
	return m.retain(ctx, invoiceID, event.TypeReEnrollment, "new_invoice_by_payer_document",
		func(strat strategy.Strategy, inv *invoice.Invoice, ev event.Event) error {
			return strat.OnNewInvoiceByPayerDocument(inv, ev.OccurredAt, invoiceCode, ev.EventID)
		})
}

func (m *Manager) retain(ctx context.Context, invoiceID id.InvoiceID, typ event.Type,
	action string, book func(strategy.Strategy, *invoice.Invoice, event.Event) error) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, typ, m.clk.Now())
	if err := book(strat, inv, ev); err != nil {
		return nil, err
	}

	if !inv.EventBalance(ev.EventID).IsZero() {
		inv.Liquidate(invoice.LiquidatedByReEnrollment, ev.OccurredAt, inv.EventBalance(ev.EventID))
	}

	inv.AppendLog(action, nil, ev.OccurredAt)
	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	return inv, nil
}

// CancelReEnrollment undoes the latest re-enrollment retention.
func (m *Manager) CancelReEnrollment(ctx context.Context, invoiceID id.InvoiceID) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypeCancelReEnrollment, m.clk.Now())
	if err := strat.OnCancelReEnrollment(inv, ev.OccurredAt, ev.EventID); err != nil {
		return nil, err
	}

	inv.AppendLog("cancel_re_enrollment", nil, ev.OccurredAt)
	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	return inv, nil
}

// ──────────────────────────────────────────────────
// Tax and inflation
// ──────────────────────────────────────────────────

// TaxAdjustment rebooks the platform tax at a new rate.
func (m *Manager) TaxAdjustment(ctx context.Context, invoiceID id.InvoiceID, newRate decimal.Decimal) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypeTaxChanged, m.clk.Now())
	if err := strat.OnTaxAdjustment(inv, ev.OccurredAt, newRate, ev.EventID); err != nil {
		return nil, err
	}

	inv.AppendLog("tax_adjustment", newRate, ev.OccurredAt)
	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	return inv, nil
}

// WriteTax rebooks the platform tax pair on an invoice whose tax was
// booked at zero.
func (m *Manager) WriteTax(ctx context.Context, invoiceID id.InvoiceID) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	strat, err := m.strategyFor(inv)
	if err != nil {
		return nil, err
	}

	ev := event.New(inv.ID, event.TypeTaxChanged, m.clk.Now())
	if err := strat.WriteTax(inv, ev.EventID); err != nil {
		return nil, err
	}

	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.publish(inv, ev)
	return inv, nil
}

// ApplyInflation recomputes and persists the invoice's inflation
// snapshot.
func (m *Manager) ApplyInflation(ctx context.Context, invoiceID id.InvoiceID) (*invoice.Invoice, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if !m.applyInflationSnapshot(inv) {
		return inv, nil
	}

	if err := m.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	m.sink.Publish(event.New(inv.ID, event.TypeInflationApplied, m.clk.Now()))
	return inv, nil
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// CreateAccount registers a processor account for an institution.
func (m *Manager) CreateAccount(ctx context.Context, institutionID id.InstitutionID,
	processor invoice.ProcessorType, name string, dflt bool) (*gateway.Account, error) {
	if _, err := m.gateways.For(processor); err != nil {
		return nil, err
	}

	account := gateway.NewAccount(institutionID, processor, name, dflt)
	if err := m.store.CreateAccount(ctx, &account); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "account created",
		"account_id", account.ID, "institution_id", institutionID, "processor", processor)

	return &account, nil
}

// applyInflationSnapshot refreshes the snapshot when the charge is
// enabled and the invoice's overdue age crossed the threshold.
// Reports whether the snapshot changed.
func (m *Manager) applyInflationSnapshot(inv *invoice.Invoice) bool {
	if !m.settings.InflationEnabled() {
		return false
	}
	minDate := m.clk.Today().AddDate(0, 0, -m.settings.MinInflationOverdueDays())
	if inv.DueDate.After(minDate) {
		return false
	}

	rate := m.settings.InflationRate(inv.DueDate)
	inv.SetInflation(invoice.NewInflationFine(inv.DueDate, rate, inv.TransferBase, m.clk.Now()))
	return true
}

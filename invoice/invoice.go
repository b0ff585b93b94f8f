package invoice

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/edupay/billing/clock"
	"github.com/edupay/billing/id"
	"github.com/edupay/billing/types"
)

// Status is the lifecycle state of the invoice as a whole, derived
// from its instruments and lifecycle operations.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusPaid     Status = "paid"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
	StatusError    Status = "error"
)

// balanceTolerance absorbs sub-cent rounding drift between the two
// ledger sides: a residual within ten cents reads as zero.
const balanceTolerance = 10

var referencePeriodRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// LiquidationReason records which settlement path closed the invoice.
type LiquidationReason string

const (
	LiquidatedByCancellation       LiquidationReason = "cancellation"
	LiquidatedByPayment            LiquidationReason = "payment"
	LiquidatedByInstitutionPayment LiquidationReason = "institution_payment"
	LiquidatedByCardPayment        LiquidationReason = "card_payment"
	LiquidatedByReEnrollment       LiquidationReason = "re_enrollment"
)

// Liquidation marks the invoice settled for good. Written once; every
// later attempt is a no-op.
type Liquidation struct {
	ID     id.LiquidationID  `json:"id" bson:"id"`
	Date   time.Time         `json:"date" bson:"date"`
	Value  types.Money       `json:"value" bson:"value"`
	Reason LiquidationReason `json:"reason" bson:"reason"`
}

// LogEntry is one audit record of a lifecycle operation with its raw
// request payload.
type LogEntry struct {
	At      time.Time       `json:"at" bson:"at"`
	Action  string          `json:"action" bson:"action"`
	Payload json.RawMessage `json:"payload,omitempty" bson:"payload,omitempty"`
}

// Invoice is the billing aggregate: one receivable owed by a payer to
// an institution, the instruments issued to collect it, and the ledger
// transactions written against it. Instruments[0] is always the
// current one.
type Invoice struct {
	ID         id.InvoiceID `json:"id" bson:"_id"`
	Code       string       `json:"code,omitempty" bson:"code,omitempty"`
	ExternalID string       `json:"external_id,omitempty" bson:"external_id,omitempty"`

	InstitutionID       id.InstitutionID `json:"institution_id" bson:"institution_id"`
	InstitutionDocument string           `json:"institution_document" bson:"institution_document"`
	InstitutionName     string           `json:"institution_name" bson:"institution_name"`

	ReferencePeriod string `json:"reference_period" bson:"reference_period"`

	Payer Payer `json:"payer" bson:"payer"`

	DueDate          time.Time `json:"due_date" bson:"due_date"`
	EffectiveDueDate time.Time `json:"effective_due_date" bson:"effective_due_date"`

	Plan      PlanType               `json:"plan" bson:"plan"`
	Items     []LineItem             `json:"items" bson:"items"`
	Fine      *FinePolicy            `json:"fine,omitempty" bson:"fine,omitempty"`
	Discounts []EarlyPaymentDiscount `json:"discounts,omitempty" bson:"discounts,omitempty"`

	Status      Status        `json:"status" bson:"status"`
	Instruments []*Instrument `json:"instruments" bson:"instruments"`

	Transactions []*Transaction `json:"transactions" bson:"transactions"`

	// Balances are per-side sums of valid transactions, clamped to
	// zero inside the rounding tolerance.
	Balance         types.Money `json:"balance" bson:"balance"`
	PlatformBalance types.Money `json:"platform_balance" bson:"platform_balance"`

	// Transfer base: the amount owed to the institution, frozen the
	// moment funds move.
	TransferBase              types.Money `json:"transfer_base" bson:"transfer_base"`
	TransferBaseDate          time.Time   `json:"transfer_base_date" bson:"transfer_base_date"`
	EffectiveTransferBaseDate time.Time   `json:"effective_transfer_base_date" bson:"effective_transfer_base_date"`

	Inflation   *InflationFine `json:"inflation,omitempty" bson:"inflation,omitempty"`
	Liquidation *Liquidation   `json:"liquidation,omitempty" bson:"liquidation,omitempty"`

	CloseTime *time.Time `json:"close_time,omitempty" bson:"close_time,omitempty"`

	Logs []LogEntry `json:"logs,omitempty" bson:"logs,omitempty"`

	types.Entity `bson:",inline"`
}

// Params carries everything needed to open an invoice.
type Params struct {
	InstitutionID       id.InstitutionID
	InstitutionDocument string
	InstitutionName     string
	Code                string
	ExternalID          string
	ReferencePeriod     string
	Payer               Payer
	DueDate             time.Time
	Items               []LineItem
	Fine                *FinePolicy
	Discounts           []EarlyPaymentDiscount
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

// New validates the parameters and opens an invoice. No instrument is
// issued until Close.
func New(p Params, clk clock.Clock) (*Invoice, error) {
	if p.InstitutionID.IsNil() {
		return nil, NewValidationError("institution_id", "institution id is required")
	}
	if err := p.Payer.validate(); err != nil {
		return nil, err
	}
	if !referencePeriodRe.MatchString(p.ReferencePeriod) {
		return nil, NewValidationError("reference_period", "must match YYYY-MM")
	}
	if p.DueDate.IsZero() {
		return nil, NewValidationError("due_date", "due date is required")
	}
	if err := validateLineItems(p.Items, nil); err != nil {
		return nil, err
	}

	total := TotalItems(p.Items)
	if p.Fine != nil {
		if err := p.Fine.Validate(total); err != nil {
			return nil, err
		}
	}
	if err := ValidateDiscounts(p.Discounts, total.Subtract(TotalFixedDiscount(p.Items)), p.DueDate, clk); err != nil {
		return nil, err
	}

	due := clock.Truncate(p.DueDate)
	inv := &Invoice{
		ID:                  id.NewInvoiceID(),
		Code:                p.Code,
		ExternalID:          p.ExternalID,
		InstitutionID:       p.InstitutionID,
		InstitutionDocument: p.InstitutionDocument,
		InstitutionName:     p.InstitutionName,
		ReferencePeriod:     p.ReferencePeriod,
		Payer:               p.Payer,
		DueDate:             due,
		EffectiveDueDate:    clk.NextBusinessDay(due),
		Plan:                planOf(p.Items[0]),
		Items:               p.Items,
		Fine:                p.Fine,
		Discounts:           p.Discounts,
		Status:              StatusOpen,
		Balance:             types.Zero(types.DefaultCurrency),
		PlatformBalance:     types.Zero(types.DefaultCurrency),
		TransferBase:        types.Zero(types.DefaultCurrency),
		Entity:              types.NewEntityAt(clk.Now()),
	}
	inv.SetTransferBaseFields(clk)

	return inv, nil
}

// ──────────────────────────────────────────────────
// Derived values
// ──────────────────────────────────────────────────

// TotalItems is the gross sum of line items.
func (inv *Invoice) TotalItems() types.Money { return TotalItems(inv.Items) }

// TotalFixedDiscount is the sum of per-item fixed discounts.
func (inv *Invoice) TotalFixedDiscount() types.Money { return TotalFixedDiscount(inv.Items) }

// CurrentInstrument returns the live instrument, nil when none was
// ever issued.
func (inv *Invoice) CurrentInstrument() *Instrument {
	if len(inv.Instruments) == 0 {
		return nil
	}
	return inv.Instruments[0]
}

// InstrumentByID finds an instrument by charge id.
func (inv *Invoice) InstrumentByID(chargeID id.ChargeID) *Instrument {
	for _, ins := range inv.Instruments {
		if ins.ID == chargeID {
			return ins
		}
	}
	return nil
}

// InstrumentByRemoteID finds an instrument by the processor's id.
func (inv *Invoice) InstrumentByRemoteID(remoteID string) *Instrument {
	for _, ins := range inv.Instruments {
		if ins.RemoteID == remoteID {
			return ins
		}
	}
	return nil
}

// IsPaid reports whether the current instrument settled.
func (inv *Invoice) IsPaid() bool {
	cur := inv.CurrentInstrument()
	return cur != nil && cur.IsPaid()
}

// IsOverdue reports whether the invoice is unpaid past its effective
// due date.
func (inv *Invoice) IsOverdue(today time.Time) bool {
	if inv.IsPaid() || inv.Status == StatusCanceled {
		return false
	}
	return clock.Truncate(today).After(inv.EffectiveDueDate)
}

// IsLiquidated reports whether a settlement path already closed the
// invoice.
func (inv *Invoice) IsLiquidated() bool { return inv.Liquidation != nil }

// ──────────────────────────────────────────────────
// Transactions and balances
// ──────────────────────────────────────────────────

// ValidTransactions returns the non-canceled transactions.
func (inv *Invoice) ValidTransactions() []*Transaction {
	out := make([]*Transaction, 0, len(inv.Transactions))
	for _, txn := range inv.Transactions {
		if !txn.Canceled {
			out = append(out, txn)
		}
	}
	return out
}

// CountValid counts non-canceled transactions of the given types.
func (inv *Invoice) CountValid(typs ...TransactionType) int {
	n := 0
	for _, txn := range inv.Transactions {
		if txn.Canceled {
			continue
		}
		for _, t := range typs {
			if txn.Type == t {
				n++
				break
			}
		}
	}
	return n
}

// HasValid reports whether any non-canceled transaction of the given
// types exists.
func (inv *Invoice) HasValid(typs ...TransactionType) bool {
	return inv.CountValid(typs...) > 0
}

// HasTransfer reports whether funds already moved to the institution.
func (inv *Invoice) HasTransfer() bool { return inv.HasValid(TypeTransfer) }

// HasRetention reports whether any un-canceled retention is written.
func (inv *Invoice) HasRetention() bool { return inv.HasValid(RetentionTypes...) }

// AddTransactions appends ledger entries and recomputes both balances.
func (inv *Invoice) AddTransactions(txns ...*Transaction) {
	inv.Transactions = append(inv.Transactions, txns...)
	inv.recalcBalance()
}

// FlagCanceled marks the given transactions canceled and recomputes
// the balances.
func (inv *Invoice) FlagCanceled(txns ...*Transaction) {
	for _, txn := range txns {
		txn.Canceled = true
	}
	inv.recalcBalance()
}

// RemoveTransactions deletes the entries matching pred and recomputes
// the balances. The only caller is the tax-rewrite path, which clears
// malformed zero-value tax entries before rebooking; lifecycle
// cancellation always flags instead.
func (inv *Invoice) RemoveTransactions(pred func(*Transaction) bool) {
	kept := inv.Transactions[:0]
	for _, txn := range inv.Transactions {
		if !pred(txn) {
			kept = append(kept, txn)
		}
	}
	inv.Transactions = kept
	inv.recalcBalance()
}

func (inv *Invoice) recalcBalance() {
	inv.Balance = SumSide(inv.ValidTransactions(), SideInstitution).ClampWithin(balanceTolerance)
	inv.PlatformBalance = SumSide(inv.ValidTransactions(), SidePlatform).ClampWithin(balanceTolerance)
}

// EventBalance is the amount a single event moved on the institution
// side, seen from the institution's perspective.
func (inv *Invoice) EventBalance(eventID uuid.UUID) types.Money {
	sum := types.Zero(types.DefaultCurrency)
	for _, txn := range inv.ValidTransactions() {
		if txn.EventID == eventID && txn.Side == SideInstitution {
			sum = sum.Add(txn.Value)
		}
	}
	return sum.Negate()
}

// SetTransferBaseFields recomputes the amount owed to the institution.
// Frozen once a transfer or retention exists: the money already moved
// on those numbers.
func (inv *Invoice) SetTransferBaseFields(clk clock.Clock) {
	if inv.HasTransfer() || inv.HasRetention() {
		return
	}

	base := inv.TotalItems().Subtract(inv.TotalFixedDiscount())
	if best := BestDiscount(inv.Discounts); best != nil {
		base = base.Subtract(best.DiscountCents(inv.TotalItems()))
	}

	inv.TransferBase = base
	inv.TransferBaseDate = inv.DueDate
	inv.EffectiveTransferBaseDate = clk.NextBusinessDay(inv.DueDate)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Close issues a new instrument for the invoice. Fails with
// ErrLiveInstrument while a previous instrument is still live.
func (inv *Invoice) Close(processor ProcessorType, accountID uuid.UUID, clk clock.Clock) (*Instrument, error) {
	if inv.Status == StatusCanceled {
		return nil, ErrAlreadyCanceled
	}
	for _, ins := range inv.Instruments {
		if ins.IsLive() {
			return nil, ErrLiveInstrument
		}
	}

	ins := inv.issueInstrument(processor, accountID, inv.DueDate, types.Zero(types.DefaultCurrency), inv.Fine, clk)
	now := clk.Now()
	inv.Status = StatusClosed
	inv.CloseTime = &now
	inv.TouchAt(now)

	return ins, nil
}

func (inv *Invoice) issueInstrument(processor ProcessorType, accountID uuid.UUID,
	dueDate time.Time, charges types.Money, fine *FinePolicy, clk clock.Clock) *Instrument {
	due := clock.Truncate(dueDate)
	ins := newInstrument(InstrumentParams{
		Processor:        processor,
		AccountID:        accountID,
		DueDate:          due,
		EffectiveDueDate: clk.NextBusinessDay(due),
		Charges:          charges,
		Payer:            inv.Payer,
		ReferencePeriod:  inv.ReferencePeriod,
		Items:            inv.Items,
		Fine:             fine,
		Discounts:        inv.Discounts,
		IssuedAt:         clk.Now(),
	})
	inv.Instruments = append([]*Instrument{ins}, inv.Instruments...)
	return ins
}

// Update replaces the billable content of an unpaid invoice. The plan
// cannot change once set.
func (inv *Invoice) Update(items []LineItem, fine *FinePolicy, discounts []EarlyPaymentDiscount,
	dueDate time.Time, clk clock.Clock) error {
	if inv.IsPaid() {
		return ErrUpdatePaid
	}
	if err := validateLineItems(items, inv.Items); err != nil {
		return err
	}

	total := TotalItems(items)
	if fine != nil {
		if err := fine.Validate(total); err != nil {
			return err
		}
	}
	due := clock.Truncate(dueDate)
	if err := ValidateDiscounts(discounts, total.Subtract(TotalFixedDiscount(items)), due, clk); err != nil {
		return err
	}

	inv.Items = items
	inv.Fine = fine
	inv.Discounts = discounts
	inv.DueDate = due
	inv.EffectiveDueDate = clk.NextBusinessDay(due)
	inv.SetTransferBaseFields(clk)
	inv.TouchAt(clk.Now())

	return nil
}

// UpdatePayer replaces the payer while the invoice is still open.
// After an instrument is issued the charge is already in the payer's
// name, so only the phone may change, and only for the same document.
func (inv *Invoice) UpdatePayer(payer Payer, now time.Time) error {
	if err := payer.validate(); err != nil {
		return err
	}

	if inv.Status == StatusOpen {
		inv.Payer = payer
		inv.TouchAt(now)
		return nil
	}

	if !inv.Payer.SameDocument(payer.Document) {
		return NewValidationError("payer.document", "cannot change the payer of an issued invoice")
	}
	inv.Payer.Phone = payer.Phone
	for _, ins := range inv.Instruments {
		if ins.Payer.Document == payer.Document {
			ins.UpdatePayerPhone(payer.Phone)
		}
	}
	inv.TouchAt(now)

	return nil
}

// Cancel cancels every instrument with the given reason. When nothing
// was ever issued a local placeholder carries the cancellation record.
func (inv *Invoice) Cancel(reason CancelReason, clk clock.Clock) error {
	if inv.Status == StatusCanceled {
		return ErrAlreadyCanceled
	}

	if len(inv.Instruments) == 0 {
		inv.issueInstrument(ProcessorLocal, uuid.Nil, inv.DueDate, types.Zero(types.DefaultCurrency), inv.Fine, clk)
	}

	now := clk.Now()
	for _, ins := range inv.Instruments {
		if ins.State != StateCanceled {
			_ = ins.Cancel(reason, now)
		}
	}
	inv.Status = StatusCanceled
	inv.TouchAt(now)

	return nil
}

// Duplicate cancels the current overdue instrument and issues a fresh
// one with the accumulated fine rolled into its charges.
func (inv *Invoice) Duplicate(processor ProcessorType, accountID uuid.UUID,
	newDueDate time.Time, clk clock.Clock) (*Instrument, error) {
	today := clk.Today()
	due := clock.Truncate(newDueDate)
	if due.Before(today) {
		return nil, NewValidationError("due_date", "new due date cannot be in the past")
	}
	if !inv.IsOverdue(today) {
		return nil, ErrNotOverdue
	}

	cur := inv.CurrentInstrument()
	if cur == nil {
		return nil, ErrInstrumentNotFound
	}
	charges := cur.Charges
	fine := inv.Fine
	if fine != nil {
		accrued := fine.TotalFineCents(cur.EffectiveDueDate, inv.TransferBase, today)
		charges = charges.Add(accrued)
		// The flat fine is already baked into the new charges; a
		// second application on the next overdue would double it.
		if accrued.IsPositive() && fine.OverdueFine.IsPositive() {
			fine = &FinePolicy{DailyInterest: fine.DailyInterest}
		}
	}

	if err := cur.Cancel(ReasonDuplicated, clk.Now()); err != nil {
		return nil, err
	}

	ins := inv.issueInstrument(processor, accountID, due, charges, fine, clk)
	inv.TouchAt(clk.Now())

	return ins, nil
}

// Expire marks an instrument expired. Idempotent per instrument.
func (inv *Invoice) Expire(chargeID id.ChargeID, now time.Time) error {
	ins := inv.InstrumentByID(chargeID)
	if ins == nil {
		return ErrInstrumentNotFound
	}
	if ins.State == StateExpired {
		return nil
	}

	ins.Expire(now)
	if ins == inv.CurrentInstrument() {
		inv.Status = StatusExpired
	}
	inv.TouchAt(now)

	return nil
}

// RecordError captures a processor failure on an instrument.
func (inv *Invoice) RecordError(chargeID id.ChargeID, errs []string, status int, raw string, now time.Time) error {
	ins := inv.InstrumentByID(chargeID)
	if ins == nil {
		return ErrInstrumentNotFound
	}

	ins.RecordError(errs, status, raw, now)
	if ins == inv.CurrentInstrument() {
		inv.Status = StatusError
	}
	inv.TouchAt(now)

	return nil
}

// ──────────────────────────────────────────────────
// Payment
// ──────────────────────────────────────────────────

// PaymentFacts is what the processor reports back on settlement.
type PaymentFacts struct {
	PaymentDate        time.Time
	GatewayPaymentDate time.Time
	TotalPaid          types.Money
	FeesPaid           types.Money
	Commission         types.Money
	Method             PaymentMethod
	EffectiveDiscount  types.Money
	EffectiveFine      types.Money
}

// Pay settles an instrument. A payment landing on a superseded
// instrument is reconciled against the current one: the payer beat the
// duplication, so the gap between what they paid and what the old
// instrument asked becomes the effective fine or discount, and the
// paid instrument becomes current again.
func (inv *Invoice) Pay(chargeID id.ChargeID, facts PaymentFacts) error {
	ins := inv.InstrumentByID(chargeID)
	if ins == nil {
		return ErrInstrumentNotFound
	}

	effectiveFine := facts.EffectiveFine
	effectiveDiscount := facts.EffectiveDiscount

	cur := inv.CurrentInstrument()
	if ins != cur {
		original := ins.OriginalTotal()
		zero := types.Zero(facts.TotalPaid.Currency)
		effectiveFine = facts.TotalPaid.Subtract(original).Max(zero).Add(cur.Charges)
		effectiveDiscount = original.Subtract(facts.TotalPaid).Max(zero)
	}

	if err := ins.Pay(facts.PaymentDate, facts.TotalPaid, facts.FeesPaid, facts.Commission,
		facts.Method, facts.GatewayPaymentDate, effectiveDiscount, effectiveFine); err != nil {
		return err
	}

	if ins != cur {
		inv.promote(ins)
	}
	inv.Status = StatusPaid
	inv.TouchAt(facts.GatewayPaymentDate)

	return nil
}

func (inv *Invoice) promote(ins *Instrument) {
	rest := make([]*Instrument, 0, len(inv.Instruments))
	for _, other := range inv.Instruments {
		if other != ins {
			rest = append(rest, other)
		}
	}
	inv.Instruments = append([]*Instrument{ins}, rest...)
}

// PayAtInstitution records a payment collected directly by the
// institution. The live instrument is canceled and a local, already
// settled one takes its place.
func (inv *Invoice) PayAtInstitution(paymentDate time.Time, totalPaid types.Money, clk clock.Clock) error {
	if inv.IsPaid() {
		return ErrAlreadyPaid
	}
	pd := clock.Truncate(paymentDate)
	if pd.After(clk.Today()) {
		return NewValidationError("payment_date", "payment date cannot be in the future")
	}

	reason := ReasonPaidAtInstitution
	if cur := inv.CurrentInstrument(); cur != nil {
		if cur.State == StateExpired {
			reason = ReasonExpiredPaidAtInstitution
		}
		if cur.State != StateCanceled {
			_ = cur.Cancel(reason, clk.Now())
		}
	}

	ins := inv.issueInstrument(ProcessorLocal, uuid.Nil, inv.DueDate, types.Zero(types.DefaultCurrency), inv.Fine, clk)
	if err := ins.Pay(pd, totalPaid, types.Zero(types.DefaultCurrency), types.Zero(types.DefaultCurrency),
		MethodInstitution, clk.Now(), types.Zero(types.DefaultCurrency), types.Zero(types.DefaultCurrency)); err != nil {
		return err
	}
	inv.Status = StatusPaid
	inv.TouchAt(clk.Now())

	return nil
}

// CancelInstitutionPayments cancels every settled at-institution
// payment on the invoice.
func (inv *Invoice) CancelInstitutionPayments(reason CancelReason, now time.Time) {
	for _, ins := range inv.Instruments {
		ins.CancelInstitutionPayment(reason, now)
	}
	inv.TouchAt(now)
}

// RollbackCancelInstitutionPayments undoes the latest at-institution
// payment: the local settled instrument is removed and the instrument
// it displaced is restored.
func (inv *Invoice) RollbackCancelInstitutionPayments(now time.Time) {
	if len(inv.Instruments) == 0 {
		return
	}

	cur := inv.Instruments[0]
	if cur.IsPaid() && cur.Method == MethodInstitution {
		inv.Instruments = inv.Instruments[1:]
	}
	if len(inv.Instruments) > 0 {
		inv.Instruments[0].RollbackCancel(now)
		if inv.Instruments[0].IsPaid() {
			inv.Status = StatusPaid
		} else {
			inv.Status = StatusClosed
		}
	}
	inv.TouchAt(now)
}

// ──────────────────────────────────────────────────
// Inflation and liquidation
// ──────────────────────────────────────────────────

// SetInflation records the monetary-correction snapshot.
func (inv *Invoice) SetInflation(f *InflationFine) { inv.Inflation = f }

// Liquidate settles the invoice for good. First write wins: once a
// settlement path claimed the invoice every later claim is ignored.
// Reports whether this call wrote the liquidation.
func (inv *Invoice) Liquidate(reason LiquidationReason, date time.Time, value types.Money) bool {
	if inv.Liquidation != nil {
		return false
	}

	inv.Liquidation = &Liquidation{
		ID:     id.NewLiquidationID(),
		Date:   clock.Truncate(date),
		Value:  value,
		Reason: reason,
	}
	return true
}

// ListOpts filters invoice listings.
type ListOpts struct {
	Status          Status
	ReferencePeriod string
	PayerDocument   string
	DueFrom         time.Time
	DueTo           time.Time
	Limit           int
	Offset          int
}

// ──────────────────────────────────────────────────
// Audit log
// ──────────────────────────────────────────────────

// AppendLog records a lifecycle operation with its request payload.
// A payload that cannot marshal is logged without one.
func (inv *Invoice) AppendLog(action string, payload any, at time.Time) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	inv.Logs = append(inv.Logs, LogEntry{At: at, Action: action, Payload: raw})
}

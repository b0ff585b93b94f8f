package strategy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/edupay/billing/clock"
	"github.com/edupay/billing/id"
	"github.com/edupay/billing/invoice"
	"github.com/edupay/billing/types"
)

const zeroDefaultMethod = "zero_default"

// ZeroDefault is the guarantee plan: the platform fronts the
// institution's receivables, so every lifecycle event moves money
// between the institution's and the platform's side of the ledger in
// balanced pairs.
type ZeroDefault struct {
	settings Settings
	clk      clock.Clock
}

// NewZeroDefault builds the guarantee-plan strategy.
func NewZeroDefault(settings Settings, clk clock.Clock) *ZeroDefault {
	return &ZeroDefault{settings: settings, clk: clk}
}

func (s *ZeroDefault) Method() string { return zeroDefaultMethod }

// shouldWrite guards every non-creation writer: an invoice with no
// valid entries has nothing to move, and the gateway plan never books.
func (s *ZeroDefault) shouldWrite(inv *invoice.Invoice, creation bool) bool {
	if !creation && len(inv.ValidTransactions()) == 0 {
		return false
	}
	return inv.Plan != invoice.PlanGateway
}

// ──────────────────────────────────────────────────
// Creation
// ──────────────────────────────────────────────────

func (s *ZeroDefault) OnCreated(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error {
	if inv.HasValid(invoice.TypeInstitutionItem) {
		return nil
	}
	if !s.shouldWrite(inv, true) {
		return nil
	}

	for _, item := range inv.Items {
		txn := invoice.NewTransaction(s.Method(), item.Value.Negate(),
			invoice.TypeInstitutionItem, at, invoice.SideInstitution, eventID)
		txn.SetProp("item_name", item.Name)
		inv.AddTransactions(txn)
	}

	if fixed := inv.TotalFixedDiscount(); fixed.IsPositive() {
		inv.AddTransactions(invoice.NewTransaction(s.Method(), fixed,
			invoice.TypeFixedDiscount, at, invoice.SideInstitution, eventID))
	}

	if best := invoice.BestDiscount(inv.Discounts); best != nil {
		if early := best.DiscountCents(inv.TotalItems()); early.IsPositive() {
			txn := invoice.NewTransaction(s.Method(), early,
				invoice.TypeEarlyPaymentDiscount, at, invoice.SideInstitution, eventID)
			txn.SetProp("days_of_discount", best.Days)
			inv.AddTransactions(txn)
		}
	}

	rate, err := s.settings.TaxRate(inv.InstitutionID)
	if err != nil {
		return err
	}
	s.writeTaxPair(inv, inv.TransferBase, at, rate, eventID)

	return nil
}

func (s *ZeroDefault) writeTaxPair(inv *invoice.Invoice, base types.Money,
	at time.Time, rate decimal.Decimal, eventID uuid.UUID) {
	if base.IsZero() || rate.IsZero() {
		return
	}

	tax := base.ApplyRate(rate)
	for _, side := range []invoice.Side{invoice.SideInstitution, invoice.SidePlatform} {
		value := tax
		if side == invoice.SidePlatform {
			value = tax.Negate()
		}
		txn := invoice.NewTransaction(s.Method(), value, invoice.TypePlatformTax, at, side, eventID)
		txn.SetProp("rate", rate.String())
		txn.SetProp("base_value", base.Amount)
		inv.AddTransactions(txn)
	}
}

func (s *ZeroDefault) WriteTax(inv *invoice.Invoice, eventID uuid.UUID) error {
	// Zero-value tax entries are booking noise; clear them before
	// deciding whether a real pair can be written.
	inv.RemoveTransactions(func(t *invoice.Transaction) bool {
		return t.Type == invoice.TypePlatformTax && !t.Value.IsPositive() && !t.Canceled
	})

	rate, err := s.settings.TaxRate(inv.InstitutionID)
	if err != nil {
		return err
	}

	if inv.HasValid(invoice.TypePlatformTax) || !inv.HasValid(invoice.TypeInstitutionItem) || !rate.IsPositive() {
		return ErrInvalidTax
	}

	s.writeTaxPair(inv, inv.TransferBase, s.clk.Now(), rate, eventID)
	return nil
}

func (s *ZeroDefault) OnUpdated(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error {
	if !s.shouldWrite(inv, true) {
		return nil
	}
	if inv.HasValid(invoice.TypeTransfer, invoice.TypeRetention) {
		return nil
	}

	inv.FlagCanceled(inv.ValidTransactions()...)

	return s.OnCreated(inv, at, eventID)
}

// ──────────────────────────────────────────────────
// Settlement
// ──────────────────────────────────────────────────

func (s *ZeroDefault) OnTransfer(inv *invoice.Invoice, at, transferDate time.Time, eventID uuid.UUID) error {
	if inv.Balance.IsZero() {
		return nil
	}

	transferValue := inv.Balance.Negate()
	typ := invoice.TypeTransfer
	if !transferValue.IsPositive() {
		typ = invoice.TypeRetention
	}

	for _, side := range []invoice.Side{invoice.SideInstitution, invoice.SidePlatform} {
		value := transferValue
		if side == invoice.SidePlatform {
			value = transferValue.Negate()
		}
		txn := invoice.NewTransaction(s.Method(), value, typ, at, side, eventID)
		txn.SetProp("transfer_date", transferDate)
		inv.AddTransactions(txn)
	}

	return nil
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

func (s *ZeroDefault) OnCanceled(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error {
	if !s.shouldWrite(inv, false) {
		return nil
	}
	// A retention that was never paid back keeps the cancellation out
	// of the books until the payback lands.
	if s.hasUnsettledRetention(inv) {
		return nil
	}

	s.writeInflation(inv, at, eventID)

	if !inv.HasValid(invoice.TypeTransfer, invoice.TypeRetention) {
		value := inv.Balance.Negate()
		platformValue := inv.PlatformBalance.Negate()

		if len(inv.Transactions) == 0 && value.IsZero() {
			return nil
		}

		institution := invoice.NewTransaction(s.Method(), value,
			invoice.TypeCancellationBeforeTransfer, at, invoice.SideInstitution, eventID)
		inv.AddTransactions(institution)

		platform := invoice.NewTransaction(s.Method(), platformValue,
			invoice.TypeCancellationBeforeTransfer, at, invoice.SidePlatform, eventID).
			WithReference(institution.ID)
		inv.AddTransactions(platform)

		return nil
	}

	if inv.HasRetention() {
		return nil
	}

	txn := invoice.NewTransaction(s.Method(), inv.TransferBase,
		invoice.TypeCancellationAfterTransfer, at, invoice.SideInstitution, eventID)
	inv.AddTransactions(txn)

	s.writeChargesPair(inv, at, txn.ID, invoice.TypeCancellationCharges, eventID)

	return nil
}

// hasUnsettledRetention reports whether more retention entries exist
// than paybacks compensating them, canceled ones included.
func (s *ZeroDefault) hasUnsettledRetention(inv *invoice.Invoice) bool {
	retentions, paybacks := 0, 0
	for _, txn := range inv.Transactions {
		if txn.IsRetention() {
			retentions++
			continue
		}
		for _, pb := range invoice.PaybackFor {
			if txn.Type == pb {
				paybacks++
				break
			}
		}
	}
	return retentions > paybacks
}

func (s *ZeroDefault) OnReverseCancellation(inv *invoice.Invoice, eventID uuid.UUID) error {
	if !s.shouldWrite(inv, false) {
		return nil
	}

	cancellation := firstValidOfTypes(inv,
		invoice.TypeCancellationBeforeTransfer, invoice.TypeCancellationAfterTransfer)
	if cancellation == nil {
		return nil
	}

	now := s.clk.Now()
	for _, txn := range append([]*invoice.Transaction{cancellation}, referencing(inv, cancellation.ID)...) {
		reversal := invoice.NewTransaction(s.Method(), txn.Value.Negate(),
			invoice.TypeReverseCancellation, now, txn.Side, eventID).
			WithReference(txn.ID)
		reversal.SetProp("reversed_type", string(txn.Type))
		reversal.SetProp("reversed_date", txn.OccurredAt)
		inv.AddTransactions(reversal)
	}

	return nil
}

// ──────────────────────────────────────────────────
// Payment
// ──────────────────────────────────────────────────

func (s *ZeroDefault) OnPaid(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error {
	if !s.shouldWrite(inv, false) {
		return nil
	}

	s.writeInflation(inv, at, eventID)

	cur := inv.CurrentInstrument()
	if cur == nil || cur.Method == "" {
		return nil
	}

	if cur.Method == invoice.MethodInstitution {
		s.writeInstitutionPayment(inv, at, eventID)
	} else {
		s.writeProcessorPayment(inv, cur, at, eventID)
	}

	s.writeBankFee(inv, cur, at, eventID)

	return nil
}

func (s *ZeroDefault) writeInstitutionPayment(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) {
	typ := invoice.TypeInstitutionPaymentBeforeTransfer
	if inv.HasValid(invoice.TypeTransfer, invoice.TypeRetention) {
		typ = invoice.TypeInstitutionPaymentAfterTransfer
		if inv.HasRetention() {
			return
		}
	}

	txn := invoice.NewTransaction(s.Method(), inv.TransferBase, typ, at, invoice.SideInstitution, eventID)
	inv.AddTransactions(txn)

	zero := types.Zero(inv.TransferBase.Currency)
	s.writePaymentCharges(inv, at, txn.ID, invoice.TypeInstitutionPaymentCharges, zero, invoice.SideInstitution, eventID)
	s.writePaymentCharges(inv, at, txn.ID, invoice.TypeInstitutionPaymentCharges, zero, invoice.SidePlatform, eventID)
}

func (s *ZeroDefault) writeProcessorPayment(inv *invoice.Invoice, cur *invoice.Instrument,
	at time.Time, eventID uuid.UUID) {
	cardTax := cur.CreditCardTax
	if s.settings.CardTaxResponsible() != ResponsiblePayer {
		// Only a payer-funded card tax inflates what the platform
		// expects to collect.
		cardTax = types.Zero(cardTax.Currency)
	}
	expected := inv.TransferBase.Add(cardTax)

	totalPaid := cur.TotalPaid
	paidCharges := cur.EffectiveFine
	paidValue := totalPaid.Subtract(paidCharges)
	expectedCharges := s.platformFine().TotalFineCents(inv.TransferBaseDate, inv.TransferBase, s.paymentDate(cur))

	payment := invoice.NewTransaction(s.Method(), totalPaid,
		invoice.TypePlatformPayment, at, invoice.SidePlatform, eventID)
	payment.SetProp("payment_date", cur.PaymentDate)
	inv.AddTransactions(payment)

	if inv.HasRetention() {
		// At most one retention can be outstanding, so the first
		// written payback finishes the job.
		for _, retentionType := range invoice.RetentionTypes {
			if s.writePayback(inv, cur, at, retentionType, eventID) {
				return
			}
		}
	}

	zero := types.Zero(totalPaid.Currency)
	s.writePaymentCharges(inv, at, payment.ID, invoice.TypePlatformPaymentCharges, zero, invoice.SidePlatform, eventID)

	last := payment
	if !paidValue.Equal(expected) {
		diff := invoice.NewTransaction(s.Method(), expected.Subtract(paidValue),
			invoice.TypePaymentDifference, at, invoice.SideInstitution, eventID)
		diff.SetProp("expected", expected.Amount)
		diff.SetProp("paid", paidValue.Amount)
		inv.AddTransactions(diff)
		last = diff
	}

	if !expectedCharges.Equal(paidCharges) {
		// An under-payment on an invoice with a flat overdue fine
		// already surfaces in the payment difference; charging the
		// fine gap again would double it.
		if cur.PaymentShortfall.IsNegative() && cur.Fine != nil && cur.Fine.OverdueFine.IsPositive() {
			return
		}

		diff := invoice.NewTransaction(s.Method(), expectedCharges.Subtract(paidCharges),
			invoice.TypePaymentDifferenceCharges, at, invoice.SideInstitution, eventID).
			WithReference(last.ID)
		diff.SetProp("expected", expectedCharges.Amount)
		diff.SetProp("paid", paidCharges.Amount)
		inv.AddTransactions(diff)
	}
}

func (s *ZeroDefault) writePayback(inv *invoice.Invoice, cur *invoice.Instrument,
	at time.Time, retentionType invoice.TransactionType, eventID uuid.UUID) bool {
	retention := lastValidOfType(inv, retentionType)
	if retention == nil || !s.shouldWrite(inv, false) {
		return false
	}

	paybackType := invoice.PaybackFor[retentionType]
	for _, txn := range inv.ValidTransactions() {
		if txn.Type == paybackType && txn.ReferenceID == retention.ID {
			return false
		}
	}

	totalPaid := cur.TotalPaid
	if s.settings.CardTaxResponsible() == ResponsiblePayer && !cur.CreditCardTax.IsZero() {
		// The card tax goes back to the payer, not to the institution.
		totalPaid = totalPaid.Subtract(cur.CreditCardTax)
	}

	txn := invoice.NewTransaction(s.Method(), totalPaid.Negate(),
		paybackType, at, invoice.SideInstitution, eventID).
		WithReference(retention.ID)
	txn.SetProp("payment_date", cur.PaymentDate)
	inv.AddTransactions(txn)

	return true
}

func (s *ZeroDefault) writeBankFee(inv *invoice.Invoice, cur *invoice.Instrument,
	at time.Time, eventID uuid.UUID) {
	if cur.Method == invoice.MethodCreditCard || cur.FeesPaid.IsZero() {
		return
	}

	inv.AddTransactions(
		invoice.NewTransaction(s.Method(), cur.FeesPaid,
			invoice.TypeBankFeeProvision, at, invoice.SidePlatform, eventID),
		invoice.NewTransaction(s.Method(), cur.FeesPaid.Negate(),
			invoice.TypeBankFee, at, invoice.SidePlatform, eventID),
	)
}

func (s *ZeroDefault) OnCardPayment(inv *invoice.Invoice, at time.Time,
	cardTax types.Money, eventID uuid.UUID) error {
	if err := s.OnPaid(inv, at, eventID); err != nil {
		return err
	}

	switch s.settings.CardTaxResponsible() {
	case ResponsiblePayer:
		inv.AddTransactions(invoice.NewTransaction(s.Method(), cardTax.Negate(),
			invoice.TypeCreditCardTax, at, invoice.SidePlatform, eventID))
	case ResponsibleInstitution:
		inv.AddTransactions(
			invoice.NewTransaction(s.Method(), cardTax.Negate(),
				invoice.TypeCreditCardTax, at, invoice.SidePlatform, eventID),
			invoice.NewTransaction(s.Method(), cardTax,
				invoice.TypeCreditCardTax, at, invoice.SideInstitution, eventID),
		)
	case ResponsiblePlatform:
		// The platform eats the tax; nothing moves between the sides.
	default:
		return ErrUndefinedCardTaxResponsible
	}

	return nil
}

func (s *ZeroDefault) OnDuplicatedPayment(inv *invoice.Invoice, at time.Time,
	duplicatedTotalPaid types.Money, eventID uuid.UUID) error {
	if !s.shouldWrite(inv, false) {
		return nil
	}

	s.writeInflation(inv, at, eventID)

	inv.AddTransactions(
		invoice.NewTransaction(s.Method(), duplicatedTotalPaid.Negate(),
			invoice.TypeDuplicatedPlatformPayment, at, invoice.SideInstitution, eventID),
		invoice.NewTransaction(s.Method(), duplicatedTotalPaid,
			invoice.TypeDuplicatedPlatformPayment, at, invoice.SidePlatform, eventID),
	)

	return nil
}

func (s *ZeroDefault) OnReverseInstitutionPayment(inv *invoice.Invoice, eventID uuid.UUID) error {
	if !s.shouldWrite(inv, false) {
		return nil
	}

	payment := firstValidOfTypes(inv,
		invoice.TypeInstitutionPaymentBeforeTransfer, invoice.TypeInstitutionPaymentAfterTransfer)
	if payment == nil {
		return nil
	}

	now := s.clk.Now()
	derived := referencing(inv, payment.ID)

	inv.AddTransactions(
		invoice.NewTransaction(s.Method(), payment.Value.Negate(),
			invoice.TypeReverseInstitutionPayment, now, invoice.SideInstitution, eventID).
			WithReference(payment.ID),
		invoice.NewTransaction(s.Method(), payment.Value,
			invoice.TypeReverseInstitutionPayment, now, invoice.SidePlatform, eventID).
			WithReference(payment.ID),
	)

	// Inflation entries booked in the same pass as the payment's
	// charges get reversed with them.
	for _, txn := range inv.ValidTransactions() {
		if txn.Type != invoice.TypeInflationCharges {
			continue
		}
		for _, d := range derived {
			if d.OccurredAt.Equal(txn.OccurredAt) {
				derived = append(derived, txn)
				break
			}
		}
	}

	for _, txn := range derived {
		reversal := invoice.NewTransaction(s.Method(), txn.Value.Negate(),
			invoice.TypeReverseInstitutionPayment, now, txn.Side, eventID).
			WithReference(txn.ID)
		reversal.SetProp("reversed_type", string(txn.Type))
		reversal.SetProp("reversed_date", txn.OccurredAt)
		inv.AddTransactions(reversal)
	}

	return nil
}

// ──────────────────────────────────────────────────
// Retention and payback
// ──────────────────────────────────────────────────

func (s *ZeroDefault) OnReEnrollment(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error {
	return s.writeRetention(inv, at, invoice.TypeReEnrollment, invoice.TypeReEnrollmentCharges,
		eventID, nil)
}

func (s *ZeroDefault) OnNewEnrollmentByPayerDocument(inv *invoice.Invoice, at time.Time,
	enrollmentID id.EnrollmentID, eventID uuid.UUID) error {
	return s.writeRetention(inv, at, invoice.TypeNewEnrollmentByPayerDocument,
		invoice.TypeNewEnrollmentByPayerDocumentCharges, eventID,
		func(txn *invoice.Transaction) { txn.SetProp("enrollment_id", enrollmentID.String()) })
}

func (s *ZeroDefault) OnNewInvoiceByPayerDocument(inv *invoice.Invoice, at time.Time,
	invoiceCode string, eventID uuid.UUID) error {
	return s.writeRetention(inv, at, invoice.TypeNewInvoiceByPayerDocument,
		invoice.TypeNewInvoiceByPayerDocumentCharges, eventID,
		func(txn *invoice.Transaction) { txn.SetProp("invoice_code", invoiceCode) })
}

func (s *ZeroDefault) writeRetention(inv *invoice.Invoice, at time.Time,
	retentionType, chargesType invoice.TransactionType, eventID uuid.UUID,
	decorate func(*invoice.Transaction)) error {
	if inv.IsPaid() {
		return nil
	}
	if !s.shouldWrite(inv, false) || !s.canWriteRetentionForDebtor(inv) {
		return nil
	}

	txn := invoice.NewTransaction(s.Method(), inv.TransferBase,
		retentionType, at, invoice.SideInstitution, eventID)
	if decorate != nil {
		decorate(txn)
	}
	inv.AddTransactions(txn)

	s.writeChargesPair(inv, at, txn.ID, chargesType, eventID)

	return nil
}

// canWriteRetentionForDebtor requires every earlier retention to be
// settled: payback for the document-based ones, cancellation for
// re-enrollment.
func (s *ZeroDefault) canWriteRetentionForDebtor(inv *invoice.Invoice) bool {
	return inv.CountValid(invoice.TypeNewInvoiceByPayerDocument) ==
		inv.CountValid(invoice.TypeNewInvoiceByPayerDocumentPayback) &&
		inv.CountValid(invoice.TypeNewEnrollmentByPayerDocument) ==
			inv.CountValid(invoice.TypeNewEnrollmentByPayerDocumentPayback) &&
		inv.CountValid(invoice.TypeReEnrollment) ==
			inv.CountValid(invoice.TypeReEnrollmentCanceled)
}

func (s *ZeroDefault) OnCancelReEnrollment(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) error {
	retention := lastValidOfType(inv, invoice.TypeReEnrollment)
	if retention == nil || !s.shouldWrite(inv, false) {
		return nil
	}
	for _, txn := range inv.ValidTransactions() {
		if txn.Type == invoice.TypeReEnrollmentCanceled && txn.ReferenceID == retention.ID {
			return nil
		}
	}

	inv.AddTransactions(invoice.NewTransaction(s.Method(), retention.Value.Negate(),
		invoice.TypeReEnrollmentCanceled, at, invoice.SideInstitution, eventID).
		WithReference(retention.ID))

	for _, charge := range inv.Transactions {
		if charge.Type != invoice.TypeReEnrollmentCharges || charge.ReferenceID != retention.ID {
			continue
		}
		inv.AddTransactions(invoice.NewTransaction(s.Method(), charge.Value.Negate(),
			invoice.TypeReEnrollmentChargesCanceled, at, charge.Side, eventID).
			WithReference(charge.ID))
	}

	return nil
}

// ──────────────────────────────────────────────────
// Tax adjustment
// ──────────────────────────────────────────────────

func (s *ZeroDefault) OnTaxAdjustment(inv *invoice.Invoice, at time.Time,
	newRate decimal.Decimal, eventID uuid.UUID) error {
	base := types.Zero(types.DefaultCurrency)
	for _, txn := range inv.ValidTransactions() {
		if txn.Type == invoice.TypeInstitutionItem || txn.Type == invoice.TypeEarlyPaymentDiscount {
			base.Currency = txn.Value.Currency
			base = base.Add(txn.Value)
		}
	}

	// Items sum negative, so negating lands the new tax positive on
	// the institution side.
	newTax := base.ApplyRate(newRate).Negate()

	delta := newTax
	for _, txn := range inv.ValidTransactions() {
		if (txn.Type == invoice.TypePlatformTax || txn.Type == invoice.TypeTaxAdjustment) &&
			txn.Side == invoice.SideInstitution {
			delta = delta.Subtract(txn.Value)
		}
	}

	if delta.IsZero() {
		return nil
	}

	oldRate, err := s.settings.TaxRate(inv.InstitutionID)
	if err != nil {
		return err
	}

	for _, side := range []invoice.Side{invoice.SideInstitution, invoice.SidePlatform} {
		value := delta
		if side == invoice.SidePlatform {
			value = delta.Negate()
		}
		txn := invoice.NewTransaction(s.Method(), value, invoice.TypeTaxAdjustment, at, side, eventID)
		txn.SetProp("old_rate", oldRate.String())
		txn.SetProp("new_rate", newRate.String())
		inv.AddTransactions(txn)
	}

	return nil
}

// ──────────────────────────────────────────────────
// Inflation
// ──────────────────────────────────────────────────

// writeInflation books the monetary correction of a long-overdue
// receivable. With the charge disabled the platform books both the
// charge and its allowance on its own side, keeping the correction
// visible without billing the institution.
func (s *ZeroDefault) writeInflation(inv *invoice.Invoice, at time.Time, eventID uuid.UUID) {
	minDate := s.clk.Today().AddDate(0, 0, -s.settings.MinInflationOverdueDays())
	if inv.DueDate.After(minDate) {
		return
	}

	// Funds already moved and not clawed back: the correction rides on
	// the settlement, not on this event.
	if inv.CountValid(invoice.TypeCancelTransfer) < inv.CountValid(invoice.TypeTransfer, invoice.TypeRetention) {
		return
	}

	days := s.overdueDays(inv)

	if !s.settings.InflationEnabled() {
		s.forceInflation(inv)
		if inv.Inflation == nil || inv.Inflation.Total.IsZero() {
			return
		}
		total := inv.Inflation.Total

		allowance := invoice.NewTransaction(s.Method(), total,
			invoice.TypeInflationChargesAllowance, at, invoice.SidePlatform, eventID)
		charge := invoice.NewTransaction(s.Method(), total.Negate(),
			invoice.TypeInflationCharges, at, invoice.SidePlatform, eventID)
		for _, txn := range []*invoice.Transaction{allowance, charge} {
			txn.SetProp("rate", inv.Inflation.Percentage.String())
			txn.SetProp("days", days)
		}
		inv.AddTransactions(allowance, charge)
		return
	}

	if inv.Inflation == nil || inv.Inflation.Total.IsZero() {
		return
	}
	total := inv.Inflation.Total

	charge := invoice.NewTransaction(s.Method(), total.Negate(),
		invoice.TypeInflationCharges, at, invoice.SidePlatform, eventID)
	charge.SetProp("rate", inv.Inflation.Percentage.String())
	charge.SetProp("days", days)
	inv.AddTransactions(charge)

	if total.IsPositive() {
		institution := invoice.NewTransaction(s.Method(), total,
			invoice.TypeInflationCharges, at, invoice.SideInstitution, eventID)
		institution.SetProp("rate", inv.Inflation.Percentage.String())
		institution.SetProp("days", days)
		inv.AddTransactions(institution)
	}
}

// forceInflation recomputes the snapshot even with the charge
// disabled, so the allowance pair books the current number.
func (s *ZeroDefault) forceInflation(inv *invoice.Invoice) {
	rate := s.settings.InflationRate(inv.DueDate)
	inv.SetInflation(invoice.NewInflationFine(inv.DueDate, rate, inv.TransferBase, s.clk.Now()))
}

func (s *ZeroDefault) overdueDays(inv *invoice.Invoice) int {
	asOf := s.clk.Today()
	if cur := inv.CurrentInstrument(); cur != nil && cur.PaymentDate != nil {
		asOf = *cur.PaymentDate
	}
	return clock.DaysBetween(inv.DueDate, asOf)
}

// ──────────────────────────────────────────────────
// Charge helpers
// ──────────────────────────────────────────────────

func (s *ZeroDefault) platformFine() *invoice.FinePolicy {
	return &invoice.FinePolicy{
		OverdueFine:   s.settings.OverdueFineRate(),
		DailyInterest: s.settings.DailyInterestRate(),
	}
}

func (s *ZeroDefault) paymentDate(cur *invoice.Instrument) time.Time {
	if cur != nil && cur.PaymentDate != nil {
		return *cur.PaymentDate
	}
	return s.clk.Now()
}

// writePaymentCharges books one side of the fine settlement: the gap
// between the fine the platform expected and what that side already
// received. The platform side always yields back the full fine.
func (s *ZeroDefault) writePaymentCharges(inv *invoice.Invoice, at time.Time,
	ref id.TransactionID, typ invoice.TransactionType, receivedCharges types.Money,
	side invoice.Side, eventID uuid.UUID) {
	cur := inv.CurrentInstrument()
	fine := s.platformFine()
	total := fine.TotalFineCents(inv.TransferBaseDate, inv.TransferBase, s.paymentDate(cur))

	diff := total.Subtract(receivedCharges)
	if !total.IsPositive() || diff.IsZero() {
		return
	}
	if side == invoice.SidePlatform {
		diff = total.Negate()
	}

	txn := invoice.NewTransaction(s.Method(), diff, typ, at, side, eventID).WithReference(ref)
	s.setFineProps(txn, fine, inv.TransferBase, inv.TransferBaseDate, s.paymentDate(cur))
	inv.AddTransactions(txn)
}

// writeChargesPair books the accumulated fine as a balanced pair, the
// institution earning it and the platform funding it.
func (s *ZeroDefault) writeChargesPair(inv *invoice.Invoice, at time.Time,
	ref id.TransactionID, typ invoice.TransactionType, eventID uuid.UUID) {
	fine := s.platformFine()
	total := fine.TotalFineCents(inv.TransferBaseDate, inv.TransferBase, at)
	if !total.IsPositive() {
		return
	}

	for _, side := range []invoice.Side{invoice.SideInstitution, invoice.SidePlatform} {
		value := total
		if side == invoice.SidePlatform {
			value = total.Negate()
		}
		txn := invoice.NewTransaction(s.Method(), value, typ, at, side, eventID).WithReference(ref)
		s.setFineProps(txn, fine, inv.TransferBase, inv.TransferBaseDate, at)
		inv.AddTransactions(txn)
	}
}

func (s *ZeroDefault) setFineProps(txn *invoice.Transaction, fine *invoice.FinePolicy,
	base types.Money, baseDate, asOf time.Time) {
	txn.SetProp("overdue_fine_rate", fine.OverdueFine.String())
	txn.SetProp("daily_interest_rate", fine.DailyInterest.String())
	txn.SetProp("base_value", base.Amount)
	txn.SetProp("days_of_delay", invoice.DaysOfDelay(baseDate, asOf))
}

// ──────────────────────────────────────────────────
// Lookup helpers
// ──────────────────────────────────────────────────

func firstValidOfTypes(inv *invoice.Invoice, typs ...invoice.TransactionType) *invoice.Transaction {
	for _, txn := range inv.ValidTransactions() {
		for _, t := range typs {
			if txn.Type == t {
				return txn
			}
		}
	}
	return nil
}

func lastValidOfType(inv *invoice.Invoice, typ invoice.TransactionType) *invoice.Transaction {
	valid := inv.ValidTransactions()
	for i := len(valid) - 1; i >= 0; i-- {
		if valid[i].Type == typ {
			return valid[i]
		}
	}
	return nil
}

func referencing(inv *invoice.Invoice, ref id.TransactionID) []*invoice.Transaction {
	var out []*invoice.Transaction
	for _, txn := range inv.ValidTransactions() {
		if txn.ReferenceID == ref {
			out = append(out, txn)
		}
	}
	return out
}

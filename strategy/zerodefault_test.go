package strategy

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/edupay/billing/clock"
	"github.com/edupay/billing/id"
	"github.com/edupay/billing/invoice"
	"github.com/edupay/billing/types"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var dueDate = date(2026, time.March, 10) // Tuesday

type testSettings struct {
	overdueFine   decimal.Decimal
	dailyInterest decimal.Decimal
	taxRate       decimal.Decimal
	inflation     bool
	minInflation  int
	inflationRate decimal.Decimal
	responsible   CardTaxResponsible
}

func newTestSettings() *testSettings {
	return &testSettings{
		overdueFine:   decimal.RequireFromString("0.02"),
		dailyInterest: decimal.RequireFromString("0.0003"),
		taxRate:       decimal.RequireFromString("0.05"),
		minInflation:  90,
		responsible:   ResponsiblePayer,
	}
}

func (s *testSettings) OverdueFineRate() decimal.Decimal   { return s.overdueFine }
func (s *testSettings) DailyInterestRate() decimal.Decimal { return s.dailyInterest }
func (s *testSettings) TaxRate(id.InstitutionID) (decimal.Decimal, error) {
	return s.taxRate, nil
}
func (s *testSettings) InflationEnabled() bool                 { return s.inflation }
func (s *testSettings) MinInflationOverdueDays() int           { return s.minInflation }
func (s *testSettings) InflationRate(time.Time) decimal.Decimal { return s.inflationRate }
func (s *testSettings) CardTaxResponsible() CardTaxResponsible { return s.responsible }

// Items 6000.00 + 4000.00, fixed discount 200.00, one early payment
// tier of 500.00: transfer base 9300.00.
func newTestInvoice(t *testing.T, clk clock.Clock) *invoice.Invoice {
	t.Helper()
	inv, err := invoice.New(invoice.Params{
		InstitutionID:       id.NewInstitutionID(),
		InstitutionDocument: "11222333000144",
		InstitutionName:     "Colegio Horizonte",
		Code:                "2026-03-0042",
		ReferencePeriod:     "2026-03",
		Payer:               invoice.Payer{Document: "12345678900", Name: "Maria Souza"},
		DueDate:             dueDate,
		Items: []invoice.LineItem{
			{ID: id.NewLineItemID(), Name: "Mensalidade", Value: types.BRL(600000), FixedDiscount: types.BRL(20000)},
			{ID: id.NewLineItemID(), Name: "Material", Value: types.BRL(400000)},
		},
		Fine: invoice.NewFinePolicy("0.02", "0.0003"),
		Discounts: []invoice.EarlyPaymentDiscount{
			{Days: 10, Value: types.BRL(50000), LimitDate: dueDate.AddDate(0, 0, -10)},
		},
	}, clk)
	require.NoError(t, err)
	return inv
}

func ofType(inv *invoice.Invoice, typ invoice.TransactionType) []*invoice.Transaction {
	var out []*invoice.Transaction
	for _, txn := range inv.ValidTransactions() {
		if txn.Type == typ {
			out = append(out, txn)
		}
	}
	return out
}

func oneOfType(t *testing.T, inv *invoice.Invoice, typ invoice.TransactionType) *invoice.Transaction {
	t.Helper()
	txns := ofType(inv, typ)
	require.Len(t, txns, 1)
	return txns[0]
}

func TestOnCreated(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	ev := uuid.New()

	require.NoError(t, eng.OnCreated(inv, clk.Now(), ev))

	items := ofType(inv, invoice.TypeInstitutionItem)
	require.Len(t, items, 2)
	require.Equal(t, int64(-600000), items[0].Value.Amount)
	require.Equal(t, "Mensalidade", items[0].Props["item_name"])
	require.Equal(t, int64(-400000), items[1].Value.Amount)
	for _, txn := range items {
		require.Equal(t, invoice.SideInstitution, txn.Side)
		require.Equal(t, ev, txn.EventID)
		require.Equal(t, "zero_default", txn.Method)
	}

	fixed := oneOfType(t, inv, invoice.TypeFixedDiscount)
	require.Equal(t, int64(20000), fixed.Value.Amount)
	require.Equal(t, invoice.SideInstitution, fixed.Side)

	early := oneOfType(t, inv, invoice.TypeEarlyPaymentDiscount)
	require.Equal(t, int64(50000), early.Value.Amount)
	require.Equal(t, 10, early.Props["days_of_discount"])

	// 5% over the 9300.00 transfer base, booked on both sides.
	taxes := ofType(inv, invoice.TypePlatformTax)
	require.Len(t, taxes, 2)
	require.Equal(t, invoice.SideInstitution, taxes[0].Side)
	require.Equal(t, int64(46500), taxes[0].Value.Amount)
	require.Equal(t, "0.05", taxes[0].Props["rate"])
	require.Equal(t, int64(930000), taxes[0].Props["base_value"])
	require.Equal(t, invoice.SidePlatform, taxes[1].Side)
	require.Equal(t, int64(-46500), taxes[1].Value.Amount)

	require.Equal(t, int64(-883500), inv.Balance.Amount)
	require.Equal(t, int64(-46500), inv.PlatformBalance.Amount)

	// A second pass is a no-op once the items are booked.
	n := len(inv.Transactions)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))
	require.Len(t, inv.Transactions, n)
}

func TestOnCreated_SkipsGatewayPlan(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)

	inv, err := invoice.New(invoice.Params{
		InstitutionID:   id.NewInstitutionID(),
		ReferencePeriod: "2026-03",
		Payer:           invoice.Payer{Document: "12345678900", Name: "Maria Souza"},
		DueDate:         dueDate,
		Items: []invoice.LineItem{
			{ID: id.NewLineItemID(), Name: "Mensalidade", Value: types.BRL(600000), Plan: invoice.PlanGateway},
		},
	}, clk)
	require.NoError(t, err)

	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))
	require.Empty(t, inv.Transactions)
}

func TestWriteTax(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	settings := newTestSettings()
	settings.taxRate = decimal.Zero
	eng := NewZeroDefault(settings, clk)
	inv := newTestInvoice(t, clk)

	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))
	require.Empty(t, ofType(inv, invoice.TypePlatformTax))
	require.Equal(t, int64(-930000), inv.Balance.Amount)

	// A zero rate has nothing to book.
	require.ErrorIs(t, eng.WriteTax(inv, uuid.New()), ErrInvalidTax)

	settings.taxRate = decimal.RequireFromString("0.05")
	require.NoError(t, eng.WriteTax(inv, uuid.New()))

	taxes := ofType(inv, invoice.TypePlatformTax)
	require.Len(t, taxes, 2)
	require.Equal(t, int64(-883500), inv.Balance.Amount)

	// Only one live pair at a time.
	require.ErrorIs(t, eng.WriteTax(inv, uuid.New()), ErrInvalidTax)

	// Nothing to tax before creation booked the items.
	bare := newTestInvoice(t, clk)
	require.ErrorIs(t, eng.WriteTax(bare, uuid.New()), ErrInvalidTax)
}

func TestOnUpdated(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)

	t.Run("rebooks from scratch", func(t *testing.T) {
		inv := newTestInvoice(t, clk)
		require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))
		before := inv.ValidTransactions()

		items := []invoice.LineItem{
			{ID: id.NewLineItemID(), Name: "Mensalidade", Value: types.BRL(500000)},
		}
		require.NoError(t, inv.Update(items, nil, nil, dueDate, clk))
		require.NoError(t, eng.OnUpdated(inv, clk.Now(), uuid.New()))

		for _, txn := range before {
			require.True(t, txn.Canceled)
		}

		rebooked := oneOfType(t, inv, invoice.TypeInstitutionItem)
		require.Equal(t, int64(-500000), rebooked.Value.Amount)
		require.Empty(t, ofType(inv, invoice.TypeFixedDiscount))
		require.Empty(t, ofType(inv, invoice.TypeEarlyPaymentDiscount))

		tax := ofType(inv, invoice.TypePlatformTax)
		require.Len(t, tax, 2)
		require.Equal(t, int64(25000), tax[0].Value.Amount)

		require.Equal(t, int64(-475000), inv.Balance.Amount)
		require.Equal(t, int64(-25000), inv.PlatformBalance.Amount)
	})

	t.Run("settled invoices stay put", func(t *testing.T) {
		inv := newTestInvoice(t, clk)
		require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))
		require.NoError(t, eng.OnTransfer(inv, clk.Now(), dueDate.AddDate(0, 0, 1), uuid.New()))

		n := len(inv.ValidTransactions())
		require.NoError(t, eng.OnUpdated(inv, clk.Now(), uuid.New()))
		require.Len(t, inv.ValidTransactions(), n)
	})
}

func TestOnTransfer(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

	transferDate := date(2026, time.March, 11)
	require.NoError(t, eng.OnTransfer(inv, clk.Now(), transferDate, uuid.New()))

	pair := ofType(inv, invoice.TypeTransfer)
	require.Len(t, pair, 2)
	require.Equal(t, invoice.SideInstitution, pair[0].Side)
	require.Equal(t, int64(883500), pair[0].Value.Amount)
	require.Equal(t, transferDate, pair[0].Props["transfer_date"])
	require.Equal(t, invoice.SidePlatform, pair[1].Side)
	require.Equal(t, int64(-883500), pair[1].Value.Amount)

	require.True(t, inv.Balance.IsZero())
	require.Equal(t, int64(-930000), inv.PlatformBalance.Amount)

	// A squared balance has nothing left to move.
	n := len(inv.Transactions)
	require.NoError(t, eng.OnTransfer(inv, clk.Now(), transferDate, uuid.New()))
	require.Len(t, inv.Transactions, n)
}

func paidTestInvoice(t *testing.T, clk *clock.Fixed, eng *ZeroDefault, facts invoice.PaymentFacts) (*invoice.Invoice, *invoice.Instrument) {
	t.Helper()
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

	ins, err := inv.Close(invoice.ProcessorLocal, uuid.Nil, clk)
	require.NoError(t, err)
	ins.Open("rem-1", clk.Now())
	require.NoError(t, inv.Pay(ins.ID, facts))
	return inv, ins
}

func TestOnPaid_ExactProcessorPayment(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)

	inv, _ := paidTestInvoice(t, clk, eng, invoice.PaymentFacts{
		PaymentDate:        dueDate,
		GatewayPaymentDate: dueDate,
		TotalPaid:          types.BRL(930000),
		FeesPaid:           types.BRL(350),
		Method:             invoice.MethodBankSlip,
	})
	require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))

	payment := oneOfType(t, inv, invoice.TypePlatformPayment)
	require.Equal(t, invoice.SidePlatform, payment.Side)
	require.Equal(t, int64(930000), payment.Value.Amount)
	require.NotNil(t, payment.Props["payment_date"])

	require.Equal(t, int64(350), oneOfType(t, inv, invoice.TypeBankFeeProvision).Value.Amount)
	require.Equal(t, int64(-350), oneOfType(t, inv, invoice.TypeBankFee).Value.Amount)

	require.Empty(t, ofType(inv, invoice.TypePaymentDifference))
	require.Empty(t, ofType(inv, invoice.TypePaymentDifferenceCharges))
	require.Empty(t, ofType(inv, invoice.TypePlatformPaymentCharges))

	require.Equal(t, int64(-883500), inv.Balance.Amount)
	require.Equal(t, int64(883500), inv.PlatformBalance.Amount)
}

func TestOnPaid_LatePaymentWithMatchingFine(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)

	paymentDate := dueDate.AddDate(0, 0, 40)
	clk.Instant = paymentDate

	// 2% flat plus 40 days at 0.03% a day over 9300.00.
	inv, _ := paidTestInvoice(t, clk, eng, invoice.PaymentFacts{
		PaymentDate:        paymentDate,
		GatewayPaymentDate: paymentDate,
		TotalPaid:          types.BRL(959760),
		EffectiveFine:      types.BRL(29760),
		Method:             invoice.MethodBankSlip,
	})
	require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))

	payment := oneOfType(t, inv, invoice.TypePlatformPayment)
	require.Equal(t, int64(959760), payment.Value.Amount)

	charges := oneOfType(t, inv, invoice.TypePlatformPaymentCharges)
	require.Equal(t, invoice.SidePlatform, charges.Side)
	require.Equal(t, int64(-29760), charges.Value.Amount)
	require.Equal(t, payment.ID, charges.ReferenceID)
	require.Equal(t, "0.02", charges.Props["overdue_fine_rate"])
	require.Equal(t, "0.0003", charges.Props["daily_interest_rate"])
	require.Equal(t, 40, charges.Props["days_of_delay"])

	require.Empty(t, ofType(inv, invoice.TypePaymentDifference))
	require.Empty(t, ofType(inv, invoice.TypePaymentDifferenceCharges))

	require.Equal(t, int64(-883500), inv.Balance.Amount)
	require.Equal(t, int64(883500), inv.PlatformBalance.Amount)
}

func TestOnPaid_PaymentDifference(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)

	inv, _ := paidTestInvoice(t, clk, eng, invoice.PaymentFacts{
		PaymentDate:        dueDate,
		GatewayPaymentDate: dueDate,
		TotalPaid:          types.BRL(900000),
		Method:             invoice.MethodBankSlip,
	})
	require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))

	diff := oneOfType(t, inv, invoice.TypePaymentDifference)
	require.Equal(t, invoice.SideInstitution, diff.Side)
	require.Equal(t, int64(30000), diff.Value.Amount)
	require.Equal(t, int64(930000), diff.Props["expected"])
	require.Equal(t, int64(900000), diff.Props["paid"])

	require.Empty(t, ofType(inv, invoice.TypePaymentDifferenceCharges))
}

func TestOnPaid_ChargesDifference(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)

	paymentDate := dueDate.AddDate(0, 0, 40)
	clk.Instant = paymentDate

	t.Run("unpaid fine is charged back", func(t *testing.T) {
		inv, _ := paidTestInvoice(t, clk, eng, invoice.PaymentFacts{
			PaymentDate:        paymentDate,
			GatewayPaymentDate: paymentDate,
			TotalPaid:          types.BRL(930000),
			Method:             invoice.MethodBankSlip,
		})
		require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))

		payment := oneOfType(t, inv, invoice.TypePlatformPayment)
		diff := oneOfType(t, inv, invoice.TypePaymentDifferenceCharges)
		require.Equal(t, invoice.SideInstitution, diff.Side)
		require.Equal(t, int64(29760), diff.Value.Amount)
		require.Equal(t, payment.ID, diff.ReferenceID)
		require.Equal(t, int64(29760), diff.Props["expected"])
		require.Equal(t, int64(0), diff.Props["paid"])
	})

	t.Run("shortfall on a flat fine skips the charge gap", func(t *testing.T) {
		inv, ins := paidTestInvoice(t, clk, eng, invoice.PaymentFacts{
			PaymentDate:        paymentDate,
			GatewayPaymentDate: paymentDate,
			TotalPaid:          types.BRL(900000),
			Method:             invoice.MethodBankSlip,
		})
		ins.SetPaymentShortfall(types.BRL(930000), types.BRL(900000))
		require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))

		require.Equal(t, int64(30000), oneOfType(t, inv, invoice.TypePaymentDifference).Value.Amount)
		require.Empty(t, ofType(inv, invoice.TypePaymentDifferenceCharges))
	})
}

func TestOnPaid_InstitutionPayment(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

	clk.Instant = dueDate.AddDate(0, 0, 40)
	require.NoError(t, inv.PayAtInstitution(clk.Today(), types.BRL(930000), clk))
	require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))

	payment := oneOfType(t, inv, invoice.TypeInstitutionPaymentBeforeTransfer)
	require.Equal(t, invoice.SideInstitution, payment.Side)
	require.Equal(t, int64(930000), payment.Value.Amount)

	charges := ofType(inv, invoice.TypeInstitutionPaymentCharges)
	require.Len(t, charges, 2)
	require.Equal(t, invoice.SideInstitution, charges[0].Side)
	require.Equal(t, int64(29760), charges[0].Value.Amount)
	require.Equal(t, payment.ID, charges[0].ReferenceID)
	require.Equal(t, invoice.SidePlatform, charges[1].Side)
	require.Equal(t, int64(-29760), charges[1].Value.Amount)

	require.Empty(t, ofType(inv, invoice.TypeBankFee))
	require.Equal(t, int64(76260), inv.Balance.Amount)
	require.Equal(t, int64(-76260), inv.PlatformBalance.Amount)

	// The institution now owes the platform; settlement retains.
	require.NoError(t, eng.OnTransfer(inv, clk.Now(), clk.Today(), uuid.New()))
	retention := ofType(inv, invoice.TypeRetention)
	require.Len(t, retention, 2)
	require.Equal(t, int64(-76260), retention[0].Value.Amount)
	require.Equal(t, int64(76260), retention[1].Value.Amount)
	require.True(t, inv.Balance.IsZero())
	require.True(t, inv.PlatformBalance.IsZero())
}

func TestOnReverseInstitutionPayment(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

	clk.Instant = dueDate.AddDate(0, 0, 40)
	require.NoError(t, inv.PayAtInstitution(clk.Today(), types.BRL(930000), clk))
	require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))

	require.NoError(t, eng.OnReverseInstitutionPayment(inv, uuid.New()))

	// The payment pair plus one reversal per derived charge.
	reversals := ofType(inv, invoice.TypeReverseInstitutionPayment)
	require.Len(t, reversals, 4)
	for _, txn := range reversals[2:] {
		require.Equal(t, "institution_payment_charges", txn.Props["reversed_type"])
	}

	require.Equal(t, int64(-883500), inv.Balance.Amount)
}

func TestOnCanceled_BeforeTransfer(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

	require.NoError(t, eng.OnCanceled(inv, clk.Now(), uuid.New()))

	pair := ofType(inv, invoice.TypeCancellationBeforeTransfer)
	require.Len(t, pair, 2)
	require.Equal(t, invoice.SideInstitution, pair[0].Side)
	require.Equal(t, int64(883500), pair[0].Value.Amount)
	require.Equal(t, invoice.SidePlatform, pair[1].Side)
	require.Equal(t, int64(46500), pair[1].Value.Amount)
	require.Equal(t, pair[0].ID, pair[1].ReferenceID)

	require.True(t, inv.Balance.IsZero())
	require.True(t, inv.PlatformBalance.IsZero())
}

func TestOnCanceled_AfterTransfer(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))
	require.NoError(t, eng.OnTransfer(inv, clk.Now(), dueDate.AddDate(0, 0, 1), uuid.New()))

	clk.Instant = dueDate.AddDate(0, 0, 40)
	require.NoError(t, eng.OnCanceled(inv, clk.Now(), uuid.New()))

	cancellation := oneOfType(t, inv, invoice.TypeCancellationAfterTransfer)
	require.Equal(t, invoice.SideInstitution, cancellation.Side)
	require.Equal(t, int64(930000), cancellation.Value.Amount)

	charges := ofType(inv, invoice.TypeCancellationCharges)
	require.Len(t, charges, 2)
	require.Equal(t, int64(29760), charges[0].Value.Amount)
	require.Equal(t, int64(-29760), charges[1].Value.Amount)
	require.Equal(t, cancellation.ID, charges[0].ReferenceID)
}

func TestOnCanceled_BlockedByUnsettledRetention(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

	inv.AddTransactions(invoice.NewTransaction(eng.Method(), types.BRL(930000),
		invoice.TypeReEnrollment, clk.Now(), invoice.SideInstitution, uuid.New()))

	n := len(inv.Transactions)
	require.NoError(t, eng.OnCanceled(inv, clk.Now(), uuid.New()))
	require.Len(t, inv.Transactions, n)
}

func TestOnReverseCancellation(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))
	require.NoError(t, eng.OnCanceled(inv, clk.Now(), uuid.New()))

	require.NoError(t, eng.OnReverseCancellation(inv, uuid.New()))

	reversals := ofType(inv, invoice.TypeReverseCancellation)
	require.Len(t, reversals, 2)
	require.Equal(t, int64(-883500), reversals[0].Value.Amount)
	require.Equal(t, "cancellation_before_transfer", reversals[0].Props["reversed_type"])
	require.Equal(t, int64(-46500), reversals[1].Value.Amount)

	require.Equal(t, int64(-883500), inv.Balance.Amount)
	require.Equal(t, int64(-46500), inv.PlatformBalance.Amount)
}

func TestOnCardPayment(t *testing.T) {
	cardPaid := func(t *testing.T, settings *testSettings, totalPaid int64) (*ZeroDefault, *invoice.Invoice) {
		t.Helper()
		clk := clock.NewFixed(date(2026, time.February, 1))
		eng := NewZeroDefault(settings, clk)
		inv, ins := paidTestInvoice(t, clk, eng, invoice.PaymentFacts{
			PaymentDate:        dueDate,
			GatewayPaymentDate: dueDate,
			TotalPaid:          types.BRL(totalPaid),
			Method:             invoice.MethodCreditCard,
		})
		ins.CreditCardTax = types.BRL(2500)
		return eng, inv
	}

	t.Run("payer absorbs the tax", func(t *testing.T) {
		eng, inv := cardPaid(t, newTestSettings(), 932500)
		require.NoError(t, eng.OnCardPayment(inv, dueDate, types.BRL(2500), uuid.New()))

		require.Equal(t, int64(932500), oneOfType(t, inv, invoice.TypePlatformPayment).Value.Amount)
		require.Empty(t, ofType(inv, invoice.TypePaymentDifference))
		require.Empty(t, ofType(inv, invoice.TypeBankFee))

		tax := oneOfType(t, inv, invoice.TypeCreditCardTax)
		require.Equal(t, invoice.SidePlatform, tax.Side)
		require.Equal(t, int64(-2500), tax.Value.Amount)
	})

	t.Run("institution absorbs the tax", func(t *testing.T) {
		settings := newTestSettings()
		settings.responsible = ResponsibleInstitution
		eng, inv := cardPaid(t, settings, 930000)
		require.NoError(t, eng.OnCardPayment(inv, dueDate, types.BRL(2500), uuid.New()))

		require.Empty(t, ofType(inv, invoice.TypePaymentDifference))
		tax := ofType(inv, invoice.TypeCreditCardTax)
		require.Len(t, tax, 2)
		require.Equal(t, invoice.SidePlatform, tax[0].Side)
		require.Equal(t, int64(-2500), tax[0].Value.Amount)
		require.Equal(t, invoice.SideInstitution, tax[1].Side)
		require.Equal(t, int64(2500), tax[1].Value.Amount)
	})

	t.Run("platform absorbs the tax", func(t *testing.T) {
		settings := newTestSettings()
		settings.responsible = ResponsiblePlatform
		eng, inv := cardPaid(t, settings, 930000)
		require.NoError(t, eng.OnCardPayment(inv, dueDate, types.BRL(2500), uuid.New()))
		require.Empty(t, ofType(inv, invoice.TypeCreditCardTax))
	})

	t.Run("undefined responsible fails", func(t *testing.T) {
		settings := newTestSettings()
		settings.responsible = ResponsibleUndefined
		eng, inv := cardPaid(t, settings, 930000)
		err := eng.OnCardPayment(inv, dueDate, types.BRL(2500), uuid.New())
		require.ErrorIs(t, err, ErrUndefinedCardTaxResponsible)
	})
}

func TestRetention(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)

	overdueInvoice := func(t *testing.T) *invoice.Invoice {
		t.Helper()
		clk.Instant = date(2026, time.February, 1)
		inv := newTestInvoice(t, clk)
		require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))
		clk.Instant = dueDate.AddDate(0, 0, 40)
		return inv
	}

	t.Run("re-enrollment retains the transfer base", func(t *testing.T) {
		inv := overdueInvoice(t)
		require.NoError(t, eng.OnReEnrollment(inv, clk.Now(), uuid.New()))

		retention := oneOfType(t, inv, invoice.TypeReEnrollment)
		require.Equal(t, invoice.SideInstitution, retention.Side)
		require.Equal(t, int64(930000), retention.Value.Amount)

		charges := ofType(inv, invoice.TypeReEnrollmentCharges)
		require.Len(t, charges, 2)
		require.Equal(t, int64(29760), charges[0].Value.Amount)
		require.Equal(t, int64(-29760), charges[1].Value.Amount)
		require.Equal(t, retention.ID, charges[0].ReferenceID)

		// An unsettled retention blocks the next one.
		n := len(inv.Transactions)
		require.NoError(t, eng.OnReEnrollment(inv, clk.Now(), uuid.New()))
		require.Len(t, inv.Transactions, n)
	})

	t.Run("new enrollment by payer document", func(t *testing.T) {
		inv := overdueInvoice(t)
		eid := id.NewEnrollmentID()
		require.NoError(t, eng.OnNewEnrollmentByPayerDocument(inv, clk.Now(), eid, uuid.New()))

		retention := oneOfType(t, inv, invoice.TypeNewEnrollmentByPayerDocument)
		require.Equal(t, eid.String(), retention.Props["enrollment_id"])
		require.Len(t, ofType(inv, invoice.TypeNewEnrollmentByPayerDocumentCharges), 2)
	})

	t.Run("new invoice by payer document", func(t *testing.T) {
		inv := overdueInvoice(t)
		require.NoError(t, eng.OnNewInvoiceByPayerDocument(inv, clk.Now(), "2026-04-0099", uuid.New()))

		retention := oneOfType(t, inv, invoice.TypeNewInvoiceByPayerDocument)
		require.Equal(t, "2026-04-0099", retention.Props["invoice_code"])
	})

	t.Run("paid invoices are left alone", func(t *testing.T) {
		clk.Instant = date(2026, time.February, 1)
		inv, _ := paidTestInvoice(t, clk, eng, invoice.PaymentFacts{
			PaymentDate:        dueDate,
			GatewayPaymentDate: dueDate,
			TotalPaid:          types.BRL(930000),
			Method:             invoice.MethodBankSlip,
		})
		n := len(inv.Transactions)
		require.NoError(t, eng.OnReEnrollment(inv, clk.Now(), uuid.New()))
		require.Len(t, inv.Transactions, n)
	})
}

func TestOnCancelReEnrollment(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

	clk.Instant = dueDate.AddDate(0, 0, 40)
	require.NoError(t, eng.OnReEnrollment(inv, clk.Now(), uuid.New()))
	retention := oneOfType(t, inv, invoice.TypeReEnrollment)

	require.NoError(t, eng.OnCancelReEnrollment(inv, clk.Now(), uuid.New()))

	canceled := oneOfType(t, inv, invoice.TypeReEnrollmentCanceled)
	require.Equal(t, int64(-930000), canceled.Value.Amount)
	require.Equal(t, retention.ID, canceled.ReferenceID)

	chargesCanceled := ofType(inv, invoice.TypeReEnrollmentChargesCanceled)
	require.Len(t, chargesCanceled, 2)
	require.Equal(t, invoice.SideInstitution, chargesCanceled[0].Side)
	require.Equal(t, int64(-29760), chargesCanceled[0].Value.Amount)
	require.Equal(t, invoice.SidePlatform, chargesCanceled[1].Side)
	require.Equal(t, int64(29760), chargesCanceled[1].Value.Amount)

	require.Equal(t, int64(-883500), inv.Balance.Amount)

	// The retention is settled; a second cancel has nothing to do.
	n := len(inv.Transactions)
	require.NoError(t, eng.OnCancelReEnrollment(inv, clk.Now(), uuid.New()))
	require.Len(t, inv.Transactions, n)
}

func TestOnPaid_PaybackSettlesRetention(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

	clk.Instant = dueDate.AddDate(0, 0, 40)
	require.NoError(t, eng.OnReEnrollment(inv, clk.Now(), uuid.New()))
	retention := oneOfType(t, inv, invoice.TypeReEnrollment)

	// The payer settles the slip after all, fine included.
	ins, err := inv.Close(invoice.ProcessorLocal, uuid.Nil, clk)
	require.NoError(t, err)
	ins.Open("rem-1", clk.Now())
	require.NoError(t, inv.Pay(ins.ID, invoice.PaymentFacts{
		PaymentDate:        clk.Today(),
		GatewayPaymentDate: clk.Today(),
		TotalPaid:          types.BRL(959760),
		EffectiveFine:      types.BRL(29760),
		Method:             invoice.MethodBankSlip,
	}))
	require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))

	payback := oneOfType(t, inv, invoice.TypeReEnrollmentPayback)
	require.Equal(t, invoice.SideInstitution, payback.Side)
	require.Equal(t, int64(-959760), payback.Value.Amount)
	require.Equal(t, retention.ID, payback.ReferenceID)

	// The payback short-circuits the usual difference bookkeeping.
	require.Empty(t, ofType(inv, invoice.TypePlatformPaymentCharges))
	require.Empty(t, ofType(inv, invoice.TypePaymentDifference))

	require.Equal(t, int64(-883500), inv.Balance.Amount)
	require.Equal(t, int64(883500), inv.PlatformBalance.Amount)
}

func TestOnDuplicatedPayment(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

	require.NoError(t, eng.OnDuplicatedPayment(inv, clk.Now(), types.BRL(930000), uuid.New()))

	pair := ofType(inv, invoice.TypeDuplicatedPlatformPayment)
	require.Len(t, pair, 2)
	require.Equal(t, invoice.SideInstitution, pair[0].Side)
	require.Equal(t, int64(-930000), pair[0].Value.Amount)
	require.Equal(t, invoice.SidePlatform, pair[1].Side)
	require.Equal(t, int64(930000), pair[1].Value.Amount)
}

func TestOnTaxAdjustment(t *testing.T) {
	clk := clock.NewFixed(date(2026, time.February, 1))
	eng := NewZeroDefault(newTestSettings(), clk)
	inv := newTestInvoice(t, clk)
	require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

	newRate := decimal.RequireFromString("0.08")
	require.NoError(t, eng.OnTaxAdjustment(inv, clk.Now(), newRate, uuid.New()))

	// Items net of the early payment discount carry 9500.00; 8% of that
	// is 760.00 against the 465.00 already booked.
	pair := ofType(inv, invoice.TypeTaxAdjustment)
	require.Len(t, pair, 2)
	require.Equal(t, invoice.SideInstitution, pair[0].Side)
	require.Equal(t, int64(29500), pair[0].Value.Amount)
	require.Equal(t, "0.05", pair[0].Props["old_rate"])
	require.Equal(t, "0.08", pair[0].Props["new_rate"])
	require.Equal(t, invoice.SidePlatform, pair[1].Side)
	require.Equal(t, int64(-29500), pair[1].Value.Amount)

	// Re-applying the same rate finds nothing to move.
	n := len(inv.Transactions)
	require.NoError(t, eng.OnTaxAdjustment(inv, clk.Now(), newRate, uuid.New()))
	require.Len(t, inv.Transactions, n)
}

func TestInflation(t *testing.T) {
	rate := decimal.RequireFromString("0.01")

	t.Run("charge enabled bills the institution", func(t *testing.T) {
		clk := clock.NewFixed(date(2026, time.February, 1))
		settings := newTestSettings()
		settings.inflation = true
		eng := NewZeroDefault(settings, clk)
		inv := newTestInvoice(t, clk)
		require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

		// Too recent: nothing booked.
		clk.Instant = dueDate.AddDate(0, 0, 40)
		require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))
		require.Empty(t, ofType(inv, invoice.TypeInflationCharges))

		clk.Instant = dueDate.AddDate(0, 0, 120)
		inv.SetInflation(invoice.NewInflationFine(dueDate, rate, inv.TransferBase, clk.Now()))
		require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))

		charges := ofType(inv, invoice.TypeInflationCharges)
		require.Len(t, charges, 2)
		require.Equal(t, invoice.SidePlatform, charges[0].Side)
		require.Equal(t, int64(-9300), charges[0].Value.Amount)
		require.Equal(t, invoice.SideInstitution, charges[1].Side)
		require.Equal(t, int64(9300), charges[1].Value.Amount)
		require.Equal(t, "0.01", charges[0].Props["rate"])
		require.Equal(t, 120, charges[0].Props["days"])
	})

	t.Run("charge disabled books the allowance on the platform", func(t *testing.T) {
		clk := clock.NewFixed(date(2026, time.February, 1))
		settings := newTestSettings()
		settings.inflationRate = rate
		eng := NewZeroDefault(settings, clk)
		inv := newTestInvoice(t, clk)
		require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))

		clk.Instant = dueDate.AddDate(0, 0, 120)
		require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))

		allowance := oneOfType(t, inv, invoice.TypeInflationChargesAllowance)
		require.Equal(t, invoice.SidePlatform, allowance.Side)
		require.Equal(t, int64(9300), allowance.Value.Amount)

		charge := oneOfType(t, inv, invoice.TypeInflationCharges)
		require.Equal(t, invoice.SidePlatform, charge.Side)
		require.Equal(t, int64(-9300), charge.Value.Amount)
	})

	t.Run("transferred funds defer the correction", func(t *testing.T) {
		clk := clock.NewFixed(date(2026, time.February, 1))
		settings := newTestSettings()
		settings.inflation = true
		eng := NewZeroDefault(settings, clk)
		inv := newTestInvoice(t, clk)
		require.NoError(t, eng.OnCreated(inv, clk.Now(), uuid.New()))
		require.NoError(t, eng.OnTransfer(inv, clk.Now(), dueDate.AddDate(0, 0, 1), uuid.New()))

		clk.Instant = dueDate.AddDate(0, 0, 120)
		inv.SetInflation(invoice.NewInflationFine(dueDate, rate, inv.TransferBase, clk.Now()))
		require.NoError(t, eng.OnPaid(inv, clk.Now(), uuid.New()))
		require.Empty(t, ofType(inv, invoice.TypeInflationCharges))
	})
}

package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/edupay/billing/clock"
	"github.com/edupay/billing/id"
	"github.com/edupay/billing/strategy"
)

// StaticSettings is an in-memory strategy.Settings backed by plain
// values. Production deployments typically load these from their
// configuration system at startup.
type StaticSettings struct {
	// OverdueFine and DailyInterest are the platform's fine rates,
	// fractions with at most four decimal places.
	OverdueFine   decimal.Decimal
	DailyInterest decimal.Decimal

	// DefaultTax applies to institutions without a specific rate.
	DefaultTax decimal.Decimal
	TaxRates   map[id.InstitutionID]decimal.Decimal

	// Inflation correction of long-overdue receivables. MonthlyIndex
	// accrues linearly per elapsed month since the due date.
	InflationCharge  bool
	MinInflationDays int
	MonthlyIndex     decimal.Decimal

	CardTax strategy.CardTaxResponsible

	clk clock.Clock
}

// DefaultSettings returns the platform defaults: 2% overdue fine,
// 0.033% daily interest, inflation charge off, card tax on the payer.
func DefaultSettings() *StaticSettings {
	return &StaticSettings{
		OverdueFine:      decimal.RequireFromString("0.02"),
		DailyInterest:    decimal.RequireFromString("0.00033"),
		DefaultTax:       decimal.Zero,
		TaxRates:         make(map[id.InstitutionID]decimal.Decimal),
		InflationCharge:  false,
		MinInflationDays: 90,
		MonthlyIndex:     decimal.Zero,
		CardTax:          strategy.ResponsiblePayer,
		clk:              clock.NewSystem(nil),
	}
}

// WithClock swaps the time source used by the inflation accrual.
func (s *StaticSettings) WithClock(clk clock.Clock) *StaticSettings {
	s.clk = clk
	return s
}

func (s *StaticSettings) OverdueFineRate() decimal.Decimal   { return s.OverdueFine }
func (s *StaticSettings) DailyInterestRate() decimal.Decimal { return s.DailyInterest }

func (s *StaticSettings) TaxRate(institutionID id.InstitutionID) (decimal.Decimal, error) {
	if rate, ok := s.TaxRates[institutionID]; ok {
		return rate, nil
	}
	return s.DefaultTax, nil
}

func (s *StaticSettings) InflationEnabled() bool       { return s.InflationCharge }
func (s *StaticSettings) MinInflationOverdueDays() int { return s.MinInflationDays }

// InflationRate accrues the monthly index linearly for every whole
// month elapsed since the given date.
func (s *StaticSettings) InflationRate(since time.Time) decimal.Decimal {
	months := clock.DaysBetween(since, s.clk.Today()) / 30
	if months <= 0 {
		return decimal.Zero
	}
	return s.MonthlyIndex.Mul(decimal.NewFromInt(int64(months)))
}

func (s *StaticSettings) CardTaxResponsible() strategy.CardTaxResponsible { return s.CardTax }

package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/edupay/billing/clock"
	"github.com/edupay/billing/types"
)

// FinePolicy holds the overdue surcharge configuration of an invoice:
// a one-off overdue fine rate plus a per-day interest rate. Rates are
// fractions (0.02 = 2%) with at most four decimal places.
type FinePolicy struct {
	OverdueFine   decimal.Decimal `json:"overdue_fine" bson:"overdue_fine"`
	DailyInterest decimal.Decimal `json:"daily_interest" bson:"daily_interest"`
}

// NewFinePolicy builds a FinePolicy from rate strings, e.g. ("0.02",
// "0.0003"). Panics on malformed input; use for fixtures and config
// defaults, not user input.
func NewFinePolicy(overdueFine, dailyInterest string) *FinePolicy {
	return &FinePolicy{
		OverdueFine:   decimal.RequireFromString(overdueFine),
		DailyInterest: decimal.RequireFromString(dailyInterest),
	}
}

// Validate checks rate precision and the minimum-effect rule against
// the invoice's total item value. A daily interest that cannot produce
// at least one cent over thirty days is rejected, because such a policy
// silently charges nothing.
func (f *FinePolicy) Validate(totalItems types.Money) error {
	if !f.OverdueFine.IsZero() && !hasAtMostDecimalPlaces(f.OverdueFine, 4) {
		return NewValidationError("overdue_fine", "rate must have at most 4 decimal places")
	}
	if f.OverdueFine.IsNegative() {
		return NewValidationError("overdue_fine", "rate cannot be negative")
	}

	if f.DailyInterest.IsZero() {
		return nil
	}
	if !hasAtMostDecimalPlaces(f.DailyInterest, 4) {
		return NewValidationError("daily_interest", "rate must have at most 4 decimal places")
	}
	if f.DailyInterest.IsNegative() {
		return NewValidationError("daily_interest", "rate cannot be negative")
	}

	// dailyInterest * totalItems / 30 must reach one cent.
	monthly := f.DailyInterest.Mul(decimal.NewFromInt(totalItems.Amount)).Div(decimal.NewFromInt(30))
	if monthly.LessThan(decimal.NewFromInt(1)) {
		return NewValidationError("daily_interest", "rate yields less than 1 cent over 30 days")
	}

	return nil
}

// OverdueFineCents returns the one-off fine for the given base value,
// truncated to cents.
func (f *FinePolicy) OverdueFineCents(base types.Money) types.Money {
	return base.ApplyRate(f.OverdueFine)
}

// DailyInterestCents returns one day of interest on the base value,
// truncated to cents.
func (f *FinePolicy) DailyInterestCents(base types.Money) types.Money {
	return base.ApplyRate(f.DailyInterest)
}

// DaysOfDelay returns the whole-day count from dueDate to asOf, clamped
// to zero when asOf does not lie after dueDate.
func DaysOfDelay(dueDate, asOf time.Time) int {
	days := clock.DaysBetween(dueDate, asOf)
	if days < 0 {
		return 0
	}
	return days
}

// TotalFineCents returns overdue fine plus accumulated daily interest
// for base as of the given date. Zero when asOf is on or before dueDate.
func (f *FinePolicy) TotalFineCents(dueDate time.Time, base types.Money, asOf time.Time) types.Money {
	days := DaysOfDelay(dueDate, asOf)
	if days == 0 {
		return types.Zero(base.Currency)
	}

	return f.OverdueFineCents(base).Add(f.DailyInterestCents(base).Multiply(int64(days)))
}

func hasAtMostDecimalPlaces(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

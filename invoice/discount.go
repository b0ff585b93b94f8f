package invoice

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edupay/billing/clock"
	"github.com/edupay/billing/types"
)

// EarlyPaymentDiscount is one tier of the early-payment incentive: pay
// at least Days before the due date (on or before LimitDate) and the
// tier's discount applies. A tier carries either a fixed cent value or
// a percentage of the total item value.
type EarlyPaymentDiscount struct {
	Days      int             `json:"days" bson:"days"`
	Value     types.Money     `json:"value" bson:"value"`
	Percent   decimal.Decimal `json:"percent" bson:"percent"`
	LimitDate time.Time       `json:"limit_date" bson:"limit_date"`
}

// DiscountCents returns the tier's discount for the given total item
// value. A fixed value wins over the percentage.
func (d EarlyPaymentDiscount) DiscountCents(totalItems types.Money) types.Money {
	if d.Value.IsPositive() {
		return d.Value
	}
	if d.Percent.IsPositive() {
		return totalItems.ApplyRate(d.Percent)
	}
	return types.Zero(totalItems.Currency)
}

// ValidateDiscounts checks a discount tier configuration:
// at most three tiers, unique Days, no tier worth more than the total
// item value, no limit date past the business-day-adjusted due date,
// and tiers farther from the due date must be worth strictly more than
// nearer ones.
func ValidateDiscounts(tiers []EarlyPaymentDiscount, totalItems types.Money, dueDate time.Time, clk clock.Clock) error {
	if len(tiers) == 0 {
		return nil
	}
	if len(tiers) > 3 {
		return NewValidationError("discounts", "at most 3 early payment discount tiers allowed")
	}

	seen := make(map[int]bool, len(tiers))
	for _, tier := range tiers {
		if seen[tier.Days] {
			return NewValidationError("discounts", "duplicate tier for the same number of days")
		}
		seen[tier.Days] = true

		if tier.DiscountCents(totalItems).GreaterThan(totalItems) {
			return NewValidationError("discounts", "discount value exceeds total item value")
		}
	}

	limitDueDate := clk.NextBusinessDay(dueDate)
	for _, tier := range tiers {
		if clock.Truncate(tier.LimitDate).After(limitDueDate) {
			return NewValidationError("discounts", "limit date past the adjusted due date")
		}
	}

	ordered := sortedByDays(tiers)
	for i := 1; i < len(ordered); i++ {
		prev := ordered[i-1].DiscountCents(totalItems)
		curr := ordered[i].DiscountCents(totalItems)
		if !curr.GreaterThan(prev) {
			return NewValidationError("discounts", "a tier farther from the due date must be worth more than a nearer one")
		}
	}

	return nil
}

// ApplicableDiscount returns the tier still reachable today: among
// tiers whose limit date is on or after today, the one with the most
// days. Nil when none applies.
func ApplicableDiscount(tiers []EarlyPaymentDiscount, today time.Time) *EarlyPaymentDiscount {
	today = clock.Truncate(today)
	var best *EarlyPaymentDiscount
	for i := range tiers {
		tier := &tiers[i]
		if clock.Truncate(tier.LimitDate).Before(today) {
			continue
		}
		if best == nil || tier.Days > best.Days {
			best = tier
		}
	}
	return best
}

// LapsedDiscount returns the tier that most recently expired: among
// tiers whose limit date is before today, the one with the fewest days.
// Used to compute what discount a late payer would have received.
func LapsedDiscount(tiers []EarlyPaymentDiscount, today time.Time) *EarlyPaymentDiscount {
	today = clock.Truncate(today)
	var lapsed *EarlyPaymentDiscount
	for i := range tiers {
		tier := &tiers[i]
		if !clock.Truncate(tier.LimitDate).Before(today) {
			continue
		}
		if lapsed == nil || tier.Days < lapsed.Days {
			lapsed = tier
		}
	}
	return lapsed
}

// BestDiscount returns the tier with the most days, the one used to
// compute the transfer base value. Nil when no tiers are configured.
func BestDiscount(tiers []EarlyPaymentDiscount) *EarlyPaymentDiscount {
	var best *EarlyPaymentDiscount
	for i := range tiers {
		tier := &tiers[i]
		if best == nil || tier.Days > best.Days {
			best = tier
		}
	}
	return best
}

func sortedByDays(tiers []EarlyPaymentDiscount) []EarlyPaymentDiscount {
	ordered := make([]EarlyPaymentDiscount, len(tiers))
	copy(ordered, tiers)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Days < ordered[j].Days })
	return ordered
}

package invoice

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/edupay/billing/clock"
	"github.com/edupay/billing/types"
)

func TestEarlyPaymentDiscount_DiscountCents(t *testing.T) {
	total := types.BRL(100000)

	fixed := EarlyPaymentDiscount{Days: 10, Value: types.BRL(5000)}
	require.Equal(t, int64(5000), fixed.DiscountCents(total).Amount)

	percent := EarlyPaymentDiscount{Days: 10, Percent: decimal.RequireFromString("0.05")}
	require.Equal(t, int64(5000), percent.DiscountCents(total).Amount)

	// A fixed value wins over the percentage.
	both := EarlyPaymentDiscount{Days: 10, Value: types.BRL(1000), Percent: decimal.RequireFromString("0.05")}
	require.Equal(t, int64(1000), both.DiscountCents(total).Amount)

	require.Equal(t, int64(0), EarlyPaymentDiscount{Days: 10}.DiscountCents(total).Amount)
}

func TestValidateDiscounts(t *testing.T) {
	due := date(2026, time.March, 10) // Tuesday
	clk := clock.NewFixed(date(2026, time.February, 1))
	total := types.BRL(100000)

	tier := func(days int, cents int64, limit time.Time) EarlyPaymentDiscount {
		return EarlyPaymentDiscount{Days: days, Value: types.BRL(cents), LimitDate: limit}
	}

	tests := []struct {
		name    string
		tiers   []EarlyPaymentDiscount
		wantErr bool
	}{
		{
			"no tiers", nil, false,
		},
		{
			"single tier",
			[]EarlyPaymentDiscount{tier(10, 5000, due.AddDate(0, 0, -10))},
			false,
		},
		{
			"farther tiers worth more",
			[]EarlyPaymentDiscount{
				tier(30, 9000, due.AddDate(0, 0, -30)),
				tier(20, 7000, due.AddDate(0, 0, -20)),
				tier(10, 5000, due.AddDate(0, 0, -10)),
			},
			false,
		},
		{
			"four tiers",
			[]EarlyPaymentDiscount{
				tier(40, 9500, due.AddDate(0, 0, -40)),
				tier(30, 9000, due.AddDate(0, 0, -30)),
				tier(20, 7000, due.AddDate(0, 0, -20)),
				tier(10, 5000, due.AddDate(0, 0, -10)),
			},
			true,
		},
		{
			"duplicate days",
			[]EarlyPaymentDiscount{
				tier(10, 5000, due.AddDate(0, 0, -10)),
				tier(10, 7000, due.AddDate(0, 0, -10)),
			},
			true,
		},
		{
			"discount exceeds total",
			[]EarlyPaymentDiscount{tier(10, 200000, due.AddDate(0, 0, -10))},
			true,
		},
		{
			"limit date past adjusted due date",
			[]EarlyPaymentDiscount{tier(10, 5000, due.AddDate(0, 0, 5))},
			true,
		},
		{
			"farther tier not worth more",
			[]EarlyPaymentDiscount{
				tier(30, 5000, due.AddDate(0, 0, -30)),
				tier(10, 5000, due.AddDate(0, 0, -10)),
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDiscounts(tt.tiers, total, due, clk)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, IsValidation(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestApplicableAndLapsedDiscount(t *testing.T) {
	due := date(2026, time.March, 10)
	tiers := []EarlyPaymentDiscount{
		{Days: 30, Value: types.BRL(9000), LimitDate: due.AddDate(0, 0, -30)},
		{Days: 20, Value: types.BRL(7000), LimitDate: due.AddDate(0, 0, -20)},
		{Days: 10, Value: types.BRL(5000), LimitDate: due.AddDate(0, 0, -10)},
	}

	// Well before every limit: the deepest tier is still reachable.
	best := ApplicableDiscount(tiers, due.AddDate(0, 0, -40))
	require.NotNil(t, best)
	require.Equal(t, 30, best.Days)

	// Between the 30 and 20 day limits.
	mid := ApplicableDiscount(tiers, due.AddDate(0, 0, -25))
	require.NotNil(t, mid)
	require.Equal(t, 20, mid.Days)

	lapsed := LapsedDiscount(tiers, due.AddDate(0, 0, -25))
	require.NotNil(t, lapsed)
	require.Equal(t, 30, lapsed.Days)

	// Past every limit: nothing applies, the nearest tier lapsed last.
	require.Nil(t, ApplicableDiscount(tiers, due))
	last := LapsedDiscount(tiers, due)
	require.NotNil(t, last)
	require.Equal(t, 10, last.Days)

	deepest := BestDiscount(tiers)
	require.NotNil(t, deepest)
	require.Equal(t, 30, deepest.Days)
	require.Nil(t, BestDiscount(nil))
}

package invoice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edupay/billing/types"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFinePolicy_TotalFineCents(t *testing.T) {
	fine := NewFinePolicy("0.02", "0.0003")
	base := types.BRL(1000000) // R$ 10,000.00
	due := date(2026, time.March, 10)

	tests := []struct {
		name string
		asOf time.Time
		want int64
	}{
		{"on due date", due, 0},
		{"before due date", due.AddDate(0, 0, -5), 0},
		{"one day late", due.AddDate(0, 0, 1), 20000 + 300},
		{"forty days late", due.AddDate(0, 0, 40), 20000 + 300*40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fine.TotalFineCents(due, base, tt.asOf)
			require.Equal(t, tt.want, got.Amount)
		})
	}
}

func TestFinePolicy_TruncatesTowardZero(t *testing.T) {
	fine := NewFinePolicy("0.02", "0.0003")

	// 0.0003 * 999 = 0.2997 cents, truncated to zero.
	require.Equal(t, int64(0), fine.DailyInterestCents(types.BRL(999)).Amount)
	// 0.02 * 333 = 6.66 cents, truncated to 6.
	require.Equal(t, int64(6), fine.OverdueFineCents(types.BRL(333)).Amount)
}

func TestFinePolicy_Validate(t *testing.T) {
	total := types.BRL(1000000)

	tests := []struct {
		name    string
		policy  *FinePolicy
		total   types.Money
		wantErr bool
	}{
		{"valid rates", NewFinePolicy("0.02", "0.0003"), total, false},
		{"zero rates", NewFinePolicy("0", "0"), total, false},
		{"too many decimal places", NewFinePolicy("0.00033", "0.0003"), total, true},
		{"daily interest too precise", NewFinePolicy("0.02", "0.00035"), total, true},
		{"interest below one cent over thirty days", NewFinePolicy("0.02", "0.0001"), types.BRL(200), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate(tt.total)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, IsValidation(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDaysOfDelay(t *testing.T) {
	due := date(2026, time.March, 10)

	require.Equal(t, 0, DaysOfDelay(due, due))
	require.Equal(t, 0, DaysOfDelay(due, due.AddDate(0, 0, -3)))
	require.Equal(t, 7, DaysOfDelay(due, due.AddDate(0, 0, 7)))
}

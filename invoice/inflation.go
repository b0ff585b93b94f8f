package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/edupay/billing/types"
)

// InflationFine is the snapshot of an index-based monetary correction
// applied once an invoice's overdue age passes the configured
// threshold. The snapshot is frozen when written; recomputation happens
// only through an explicit apply, never on read.
type InflationFine struct {
	BaseDate   time.Time       `json:"base_date" bson:"base_date"`
	BaseValue  types.Money     `json:"base_value" bson:"base_value"`
	Percentage decimal.Decimal `json:"percentage" bson:"percentage"`
	Total      types.Money     `json:"total" bson:"total"`
	ComputedAt time.Time       `json:"computed_at" bson:"computed_at"`
}

// NewInflationFine computes the inflation charge for base accumulated
// at the given index rate since baseDate.
func NewInflationFine(baseDate time.Time, rate decimal.Decimal, base types.Money, computedAt time.Time) *InflationFine {
	return &InflationFine{
		BaseDate:   baseDate,
		BaseValue:  base,
		Percentage: rate,
		Total:      base.ApplyRate(rate),
		ComputedAt: computedAt.UTC(),
	}
}

// TotalCents returns the snapshot's charge, zero when the snapshot is
// absent or non-positive.
func (f *InflationFine) TotalCents() types.Money {
	if f == nil || !f.Total.IsPositive() {
		return types.Zero(types.DefaultCurrency)
	}
	return f.Total
}

package invoice

import (
	"github.com/edupay/billing/id"
	"github.com/edupay/billing/types"
)

// PlanType selects the ledger strategy that books an invoice's entries.
type PlanType string

const (
	// PlanZeroDefault is the standard plan: the platform guarantees the
	// institution's receivables and books the full double-entry set.
	PlanZeroDefault PlanType = "zero_default"

	// PlanGateway is the pass-through plan: the platform only brokers
	// the charge and writes no ledger entries.
	PlanGateway PlanType = "gateway"
)

// LineItem is one planned installment of an invoice. Items are
// immutable once validated; enrollment linkage ties an item to the
// student contract that retention logic operates on.
type LineItem struct {
	ID            id.LineItemID   `json:"id" bson:"_id"`
	Name          string          `json:"name" bson:"name"`
	Value         types.Money     `json:"value" bson:"value"`
	FixedDiscount types.Money     `json:"fixed_discount" bson:"fixed_discount"`
	Plan          PlanType        `json:"plan" bson:"plan"`
	EnrollmentID  id.EnrollmentID `json:"enrollment_id,omitempty" bson:"enrollment_id,omitempty"`
	StudentName   string          `json:"student_name,omitempty" bson:"student_name,omitempty"`
	ClassName     string          `json:"class_name,omitempty" bson:"class_name,omitempty"`
	AcademicYear  int             `json:"academic_year,omitempty" bson:"academic_year,omitempty"`
}

// TotalItems sums the item values.
func TotalItems(items []LineItem) types.Money {
	total := types.Zero(types.DefaultCurrency)
	for _, item := range items {
		total.Currency = item.Value.Currency
		total = total.Add(item.Value)
	}
	return total
}

// TotalFixedDiscount sums the per-item fixed discounts.
func TotalFixedDiscount(items []LineItem) types.Money {
	total := types.Zero(types.DefaultCurrency)
	for _, item := range items {
		if item.FixedDiscount.Amount == 0 {
			continue
		}
		total.Currency = item.FixedDiscount.Currency
		total = total.Add(item.FixedDiscount)
	}
	return total
}

func validateLineItems(items []LineItem, existing []LineItem) error {
	if len(items) == 0 {
		return NewValidationError("items", "must have at least one line item")
	}

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		key := item.ID.String()
		if seen[key] {
			return NewValidationError("items", "duplicate line item id")
		}
		seen[key] = true
	}

	plan := items[0].Plan
	for _, item := range items {
		if planOf(item) != planOf(items[0]) {
			return NewValidationError("items", "all line items must share the same billing plan")
		}
	}

	// The plan is frozen at creation; replacing items cannot move the
	// invoice to another strategy.
	if len(existing) > 0 && planOf(existing[0]) != normalizePlan(plan) {
		return ErrPlanChange
	}

	return nil
}

func planOf(item LineItem) PlanType { return normalizePlan(item.Plan) }

func normalizePlan(p PlanType) PlanType {
	if p == "" {
		return PlanZeroDefault
	}
	return p
}

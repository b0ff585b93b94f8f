package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"BRL", BRL(10000), 10000, "brl", "R$100.00"},
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"Cents", Cents(2500, "BRL"), 2500, "brl", "R$25.00"},
		{"Zero BRL", Zero("BRL"), 0, "brl", "R$0.00"},
		{"Zero USD", Zero("usd"), 0, "usd", "$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return BRL(100).Add(BRL(200)) }, BRL(300)},
		{"Subtract", func() Money { return BRL(500).Subtract(BRL(200)) }, BRL(300)},
		{"Multiply", func() Money { return BRL(100).Multiply(3) }, BRL(300)},
		{"Negate", func() Money { return BRL(100).Negate() }, BRL(-100)},
		{"Abs positive", func() Money { return BRL(100).Abs() }, BRL(100)},
		{"Abs negative", func() Money { return BRL(-100).Abs() }, BRL(100)},
		{"Complex", func() Money {
			return BRL(1000).Add(BRL(500)).Multiply(2).Subtract(BRL(1000))
		}, BRL(2000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyApplyRate(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		rate     string
		expected Money
	}{
		{"Two percent fine", BRL(10000), "0.02", BRL(200)},
		{"Tax truncates down", BRL(9999), "0.085", BRL(849)},
		{"One third of a cent rounds to zero", BRL(1), "0.3333", BRL(0)},
		{"Daily interest over thirty days", BRL(50000), "0.0333", BRL(1665)},
		{"Negative amount truncates toward zero", BRL(-9999), "0.085", BRL(-849)},
		{"Full rate", BRL(12345), "1", BRL(12345)},
		{"Zero rate", BRL(12345), "0", BRL(0)},
		{"Inflation index", BRL(100000), "0.0456", BRL(4560)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate := decimal.RequireFromString(tt.rate)
			result := tt.money.ApplyRate(rate)
			if !result.Equal(tt.expected) {
				t.Errorf("ApplyRate(%s): got %v, want %v", tt.rate, result, tt.expected)
			}
		})
	}
}

func TestMoneyClampWithin(t *testing.T) {
	tests := []struct {
		name      string
		money     Money
		tolerance int64
		expected  Money
	}{
		{"Inside positive", BRL(7), 10, BRL(0)},
		{"Inside negative", BRL(-9), 10, BRL(0)},
		{"At tolerance", BRL(10), 10, BRL(0)},
		{"At negative tolerance", BRL(-10), 10, BRL(0)},
		{"Just outside", BRL(11), 10, BRL(11)},
		{"Just outside negative", BRL(-11), 10, BRL(-11)},
		{"Large value", BRL(10000), 10, BRL(10000)},
		{"Zero stays zero", BRL(0), 10, BRL(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.money.ClampWithin(tt.tolerance)
			if !result.Equal(tt.expected) {
				t.Errorf("ClampWithin(%d): got %v, want %v", tt.tolerance, result, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	_ = BRL(100).Add(USD(100))
}

func TestMoneyComparison(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Money
		less    bool
		greater bool
		equal   bool
	}{
		{"Equal", BRL(100), BRL(100), false, false, true},
		{"Less", BRL(50), BRL(100), true, false, false},
		{"Greater", BRL(200), BRL(100), false, true, false},
		{"Zero equal", BRL(0), Zero("brl"), false, false, true},
		{"Negative less", BRL(-100), BRL(100), true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.LessThan(tt.b); got != tt.less {
				t.Errorf("LessThan: got %v, want %v", got, tt.less)
			}
			if got := tt.a.GreaterThan(tt.b); got != tt.greater {
				t.Errorf("GreaterThan: got %v, want %v", got, tt.greater)
			}
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal: got %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestMoneyMinMax(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Money
		min, max Money
	}{
		{"First smaller", BRL(50), BRL(100), BRL(50), BRL(100)},
		{"Second smaller", BRL(100), BRL(50), BRL(50), BRL(100)},
		{"Equal", BRL(100), BRL(100), BRL(100), BRL(100)},
		{"Negative", BRL(-50), BRL(50), BRL(-50), BRL(50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if minVal := tt.a.Min(tt.b); !minVal.Equal(tt.min) {
				t.Errorf("Min: got %v, want %v", minVal, tt.min)
			}
			if maxVal := tt.a.Max(tt.b); !maxVal.Equal(tt.max) {
				t.Errorf("Max: got %v, want %v", maxVal, tt.max)
			}
		})
	}
}

func TestMoneyPredicates(t *testing.T) {
	tests := []struct {
		name       string
		money      Money
		isZero     bool
		isPositive bool
		isNegative bool
	}{
		{"Zero", BRL(0), true, false, false},
		{"Positive", BRL(100), false, true, false},
		{"Negative", BRL(-100), false, false, true},
		{"Large positive", BRL(999999999), false, true, false},
		{"Large negative", BRL(-999999999), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.IsZero(); got != tt.isZero {
				t.Errorf("IsZero: got %v, want %v", got, tt.isZero)
			}
			if got := tt.money.IsPositive(); got != tt.isPositive {
				t.Errorf("IsPositive: got %v, want %v", got, tt.isPositive)
			}
			if got := tt.money.IsNegative(); got != tt.isNegative {
				t.Errorf("IsNegative: got %v, want %v", got, tt.isNegative)
			}
		})
	}
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		money    Money
		expected string
	}{
		{BRL(4900), "49.00"},
		{BRL(100), "1.00"},
		{BRL(1), "0.01"},
		{BRL(0), "0.00"},
		{BRL(-4900), "-49.00"},
		{BRL(-1), "-0.01"},
		{USD(9999), "99.99"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.expected {
				t.Errorf("FormatMajor: got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestMoneyJSON(t *testing.T) {
	m := BRL(4900)

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	expected := `{"amount":4900,"currency":"brl","display":"R$49.00"}`
	if string(data) != expected {
		t.Errorf("JSON: got %s, want %s", string(data), expected)
	}

	var result struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if result.Amount != 4900 || result.Currency != "brl" || result.Display != "R$49.00" {
		t.Errorf("Unmarshaled data incorrect: %+v", result)
	}
}

func TestSum(t *testing.T) {
	tests := []struct {
		name     string
		values   []Money
		expected Money
	}{
		{"Empty", []Money{}, Zero("brl")},
		{"Single", []Money{BRL(100)}, BRL(100)},
		{"Multiple", []Money{BRL(100), BRL(200), BRL(300)}, BRL(600)},
		{"With negatives", []Money{BRL(100), BRL(-50), BRL(200)}, BRL(250)},
		{"Balanced pair sums to zero", []Money{BRL(500), BRL(-500)}, BRL(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Sum(tt.values...)
			if !result.Equal(tt.expected) {
				t.Errorf("Sum: got %v, want %v", result, tt.expected)
			}
		})
	}
}

func BenchmarkMoneyAdd(b *testing.B) {
	m1 := BRL(100)
	m2 := BRL(200)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m1.Add(m2)
	}
}

func BenchmarkMoneyApplyRate(b *testing.B) {
	m := BRL(10000)
	rate := decimal.RequireFromString("0.02")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.ApplyRate(rate)
	}
}

package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in the currency's minor unit (cents, kopecks, yen).
// All arithmetic in the core happens on Amount; decimals only appear at the edges.
type Money struct {
	Amount   int64
	Currency string
}

func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: NormalizeCurrency(currency)}
}

func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// MinorUnitExponent returns the number of decimal places of the currency's minor unit.
func MinorUnitExponent(currency string) int32 {
	switch NormalizeCurrency(currency) {
	case "JPY", "KRW", "VND", "CLP", "ISK":
		return 0
	default:
		return 2
	}
}

// Decimal renders the amount in major units, e.g. 1300 USD -> 13.00.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -MinorUnitExponent(m.Currency))
}

func (m Money) String() string {
	exp := MinorUnitExponent(m.Currency)
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(exp), m.Currency)
}

// ParseMoney parses a major-unit decimal string ("13.00") into minor units.
// Values with more precision than the currency's minor unit are rejected rather than rounded.
func ParseMoney(value, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Money{}, &ValidationError{Field: "amount", Reason: fmt.Sprintf("not a decimal: %q", value)}
	}
	minor := d.Shift(MinorUnitExponent(currency))
	if !minor.IsInteger() {
		return Money{}, &ValidationError{Field: "amount", Reason: fmt.Sprintf("%q exceeds minor unit precision of %s", value, NormalizeCurrency(currency))}
	}
	if !minor.BigInt().IsInt64() {
		return Money{}, &ValidationError{Field: "amount", Reason: "out of range"}
	}
	return NewMoney(minor.IntPart(), currency), nil
}

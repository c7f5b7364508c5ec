package library

import (
	"math"

	"github.com/shopspring/decimal"
)

// Amounts are stored as integer cents so SQL sums stay exact.

var maxCents = decimal.NewFromInt(math.MaxInt64)

// toCents rounds d to whole cents. Amounts whose cents do not fit in an
// int64 are rejected with ErrInvalidAmount.
func toCents(d decimal.Decimal) (int64, error) {
	c := d.Shift(2).Round(0)
	if c.Abs().GreaterThan(maxCents) {
		return 0, withDetail(ErrInvalidAmount, "amount %s is too large to store", FormatMoney(d))
	}
	return c.IntPart(), nil
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// FormatMoney renders an amount with two decimals.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

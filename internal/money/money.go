// Package money holds the decimal arithmetic conventions shared by the order
// ledger and the payment pipeline. Amounts are decimal values rounded to
// currency precision at the edges; share allocation works in integer minor
// units so that splits never leak or invent cents.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round normalizes an amount to currency precision (two decimal places).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FloorAtZero clamps negative values to zero.
func FloorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Cents converts an amount to integer minor units.
func Cents(d decimal.Decimal) int64 {
	return d.Round(2).Mul(hundred).IntPart()
}

// FromCents converts integer minor units back to a decimal amount.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// Equal reports whether two amounts are equal at currency precision.
func Equal(a, b decimal.Decimal) bool {
	return Cents(a) == Cents(b)
}

// Percentage returns value percent of amount, rounded to currency precision.
func Percentage(amount, value decimal.Decimal) decimal.Decimal {
	return amount.Mul(value).Div(hundred).Round(2)
}

// AllocateEven divides amount into n shares that differ by at most one minor
// unit and sum to exactly amount. The remainder is distributed one cent at a
// time starting from the first share, never dropped.
func AllocateEven(amount decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}

	total := Cents(amount)
	base := total / int64(n)
	remainder := total % int64(n)

	shares := make([]decimal.Decimal, n)
	for i := range shares {
		cents := base
		if int64(i) < remainder {
			cents++
		}
		shares[i] = FromCents(cents)
	}
	return shares
}

// Sum adds the given amounts.
func Sum(amounts []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum
}

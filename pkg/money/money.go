package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var centsFactor = decimal.NewFromInt(100)

// Round2 rounds a monetary amount to two decimal places.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ToMinorUnits converts a two-decimal amount into integer cents. Amounts that
// do not land exactly on a cent are rejected rather than silently rounded.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Mul(centsFactor)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %s is not representable in cents", amount)
	}
	return cents.IntPart(), nil
}

// FromMinorUnits converts integer cents back into a decimal amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(centsFactor)
}

// SplitEqual divides total into n shares using integer cent arithmetic. Every
// share except the last receives the truncated equal portion; the last share
// absorbs the rounding remainder so the shares always sum to total exactly.
func SplitEqual(total decimal.Decimal, n int) ([]decimal.Decimal, error) {
	if n < 1 {
		return nil, fmt.Errorf("share count must be at least 1, got %d", n)
	}
	if total.IsNegative() {
		return nil, fmt.Errorf("cannot split negative amount %s", total)
	}

	totalCents, err := ToMinorUnits(total)
	if err != nil {
		return nil, err
	}

	base := totalCents / int64(n)
	shares := make([]decimal.Decimal, n)
	allocated := int64(0)
	for i := 0; i < n-1; i++ {
		shares[i] = FromMinorUnits(base)
		allocated += base
	}
	shares[n-1] = FromMinorUnits(totalCents - allocated)
	return shares, nil
}

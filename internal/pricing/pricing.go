package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/rentiva/rentiva-backend/pkg/money"
)

// LineItem is the priced input of a totals computation.
type LineItem struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

// Totals is the result of computing an order's financials.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
	// DiscountClamped reports that the requested discount fell outside
	// [0, subtotal] and was clamped to the nearest bound.
	DiscountClamped bool
}

// ComputeTotals derives subtotal, tax and total from the priced line items.
// All arithmetic is fixed-point decimal; the discount is clamped into
// [0, subtotal] rather than rejected so a bad coupon never blocks checkout.
func ComputeTotals(items []LineItem, discount decimal.Decimal, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		subtotal = subtotal.Add(item.UnitPrice.Mul(qty))
	}
	subtotal = money.Round2(subtotal)

	clamped := false
	if discount.IsNegative() {
		discount = decimal.Zero
		clamped = true
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
		clamped = true
	}
	discount = money.Round2(discount)

	afterDiscount := subtotal.Sub(discount)
	taxAmount := money.Round2(afterDiscount.Mul(taxRate))
	total := afterDiscount.Add(taxAmount)

	return Totals{
		Subtotal:        subtotal,
		DiscountAmount:  discount,
		TaxAmount:       taxAmount,
		Total:           total,
		DiscountClamped: clamped,
	}
}

// DepositFor derives the refundable security hold from an order total.
func DepositFor(total decimal.Decimal, depositRate decimal.Decimal) decimal.Decimal {
	return money.Round2(total.Mul(depositRate))
}

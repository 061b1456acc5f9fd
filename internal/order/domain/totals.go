package domain

import "github.com/shopspring/decimal"

type Totals struct {
	Subtotal       int64
	DiscountAmount int64
	TaxAmount      int64
	TotalAmount    int64
}

// PriceLine fills the derived amounts of a line from its snapshot. Tax is
// rounded half away from zero to the minor unit.
func PriceLine(item *OrderItem) {
	item.Subtotal = item.UnitPrice * item.Quantity
	item.TaxAmount = decimal.NewFromInt(item.Subtotal).Mul(item.TaxRate).Round(0).IntPart()
	item.TotalPrice = item.Subtotal + item.TaxAmount - item.DiscountAmount
}

// Recalculate sums the lines and applies the order-level discount.
// total = subtotal - discount + tax, and the discount may not exceed subtotal.
func Recalculate(items []OrderItem, discount int64) (Totals, error) {
	if discount < 0 {
		return Totals{}, ErrInvalidDiscount
	}

	var totals Totals
	for _, item := range items {
		totals.Subtotal += item.Subtotal
		totals.TaxAmount += item.TaxAmount
	}
	if discount > totals.Subtotal {
		return Totals{}, ErrInvalidDiscount
	}

	totals.DiscountAmount = discount
	totals.TotalAmount = totals.Subtotal - discount + totals.TaxAmount
	if totals.TotalAmount < 0 {
		return Totals{}, ErrInvalidDiscount
	}
	return totals, nil
}

// Apply copies totals onto the order header.
func (t Totals) Apply(o *Order) {
	o.Subtotal = t.Subtotal
	o.DiscountAmount = t.DiscountAmount
	o.TaxAmount = t.TaxAmount
	o.TotalAmount = t.TotalAmount
}

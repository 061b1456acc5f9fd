package pdf

import (
	"context"
	"errors"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
)

var ErrMissingReceipt = errors.New("missing_receipt")

func (p *PDFProvider) RenderReceipt(ctx context.Context, receipt *paymentdomain.Receipt) ([]byte, error) {
	if receipt == nil || receipt.Payment.ReceiptNumber == nil {
		return nil, ErrMissingReceipt
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payment := receipt.Payment
	order := receipt.Order

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, p.businessName, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Receipt", props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(22,
		col.New(6).Add(
			text.New("Receipt number: "+*payment.ReceiptNumber, props.Text{Top: 0}),
			text.New("Order number: "+order.OrderNumber, props.Text{Top: 5}),
			text.New("Order type: "+string(order.OrderType), props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Date paid: "+payment.ProcessedAt.In(p.location).Format("2006-01-02 15:04"), props.Text{Top: 0, Align: align.Right}),
			text.New("Method: "+string(payment.Method), props.Text{Top: 5, Align: align.Right}),
			text.New(tableLabel(order.TableNumber), props.Text{Top: 10, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Item", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range order.Items {
		m.AddRow(8,
			text.NewCol(6, item.ProductName, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, p.money(item.UnitPrice), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, p.money(item.Subtotal), props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(2, line.NewCol(12))

	totals := [][2]string{
		{"Subtotal", p.money(order.Subtotal)},
	}
	if order.DiscountAmount > 0 {
		totals = append(totals, [2]string{"Discount", "-" + p.money(order.DiscountAmount)})
	}
	totals = append(totals,
		[2]string{"Tax", p.money(order.TaxAmount)},
		[2]string{"Total", p.money(order.TotalAmount)},
		[2]string{"Paid", p.money(payment.AmountPaid)},
	)
	if payment.ChangeAmount > 0 {
		totals = append(totals, [2]string{"Change", p.money(payment.ChangeAmount)})
	}
	for _, row := range totals {
		style := fontstyle.Normal
		if row[0] == "Total" {
			style = fontstyle.Bold
		}
		m.AddRow(7,
			col.New(8),
			text.NewCol(2, row[0], props.Text{Size: 9, Style: style}),
			text.NewCol(2, row[1], props.Text{Size: 9, Style: style, Align: align.Right}),
		)
	}

	if payment.TransactionID != nil {
		m.AddRow(10,
			text.NewCol(12, "Card transaction: "+*payment.TransactionID, props.Text{Size: 8, Top: 3}),
		)
	}
	m.AddRow(12,
		text.NewCol(12, "Thank you!", props.Text{Size: 10, Top: 4, Align: align.Center}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func (p *PDFProvider) money(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2) + " " + p.currency
}

func tableLabel(table *string) string {
	if table == nil || *table == "" {
		return ""
	}
	return "Table: " + *table
}

package documents

import (
	"fmt"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/kotilabs/housing-backend/internal/invoices"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/money"
)

// Document is everything printed on an invoice PDF.
type Document struct {
	Invoice    models.Invoice
	IssuerName string
	IBAN       string
}

// Renderer turns invoices into PDF bytes.
type Renderer interface {
	Render(doc Document) ([]byte, error)
}

type pdfRenderer struct{}

func NewRenderer() Renderer {
	return pdfRenderer{}
}

func (pdfRenderer) Render(doc Document) ([]byte, error) {
	inv := doc.Invoice
	if inv.VirtualBarcode == "" {
		return nil, fmt.Errorf("invoice %s has no virtual barcode", inv.ID)
	}

	cfg := config.NewBuilder().
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		Build()
	m := maroto.New(cfg)

	m.AddRows(text.NewRow(12, doc.IssuerName, props.Text{Size: 16, Style: fontstyle.Bold}))
	m.AddRow(8,
		text.NewCol(6, "Invoice", props.Text{Size: 12, Style: fontstyle.Bold}),
		text.NewCol(6, "Reference "+invoices.FormatReference(inv.ReferenceNumber), props.Text{Size: 10, Align: align.Right}),
	)
	m.AddRow(6,
		text.NewCol(6, receiverLine(inv), props.Text{Size: 10}),
		text.NewCol(6, "Due "+dueDate(inv.DueDate), props.Text{Size: 10, Align: align.Right}),
	)
	m.AddRows(line.NewRow(4))

	m.AddRows(itemHeader())
	m.AddRows(itemRows(inv)...)
	m.AddRows(line.NewRow(4))
	m.AddRow(8,
		col.New(6),
		text.NewCol(3, "Total", props.Text{Size: 11, Style: fontstyle.Bold}),
		text.NewCol(3, amount(inv.SubtotalCents, inv.Currency), props.Text{Size: 11, Style: fontstyle.Bold, Align: align.Right}),
	)

	m.AddRow(8,
		text.NewCol(6, "Recipient account "+doc.IBAN, props.Text{Size: 9, Top: 3}),
		text.NewCol(6, "Virtual barcode "+inv.VirtualBarcode, props.Text{Size: 7, Top: 3, Align: align.Right}),
	)
	m.AddRow(20, code.NewBarCol(12, inv.VirtualBarcode, props.Barcode{Percent: 100}))

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate invoice pdf: %w", err)
	}
	return out.GetBytes(), nil
}

func itemHeader() core.Row {
	bold := props.Text{Size: 9, Style: fontstyle.Bold}
	right := props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}
	return row.New(6).Add(
		text.NewCol(6, "Description", bold),
		text.NewCol(2, "Qty", right),
		text.NewCol(2, "Unit", right),
		text.NewCol(2, "Amount", right),
	)
}

func itemRows(inv models.Invoice) []core.Row {
	plain := props.Text{Size: 9}
	right := props.Text{Size: 9, Align: align.Right}
	rows := make([]core.Row, 0, len(inv.Items))
	for _, item := range inv.Items {
		desc := item.Description
		if !item.TaxPercent.IsZero() {
			desc = fmt.Sprintf("%s (VAT %s%%)", desc, item.TaxPercent.StringFixed(2))
		}
		rows = append(rows, row.New(6).Add(
			text.NewCol(6, desc, plain),
			text.NewCol(2, fmt.Sprint(item.Quantity), right),
			text.NewCol(2, money.Format(item.UnitCostCents), right),
			text.NewCol(2, money.Format(money.LineTotal(item.UnitCostCents, item.Quantity)), right),
		))
	}
	return rows
}

func receiverLine(inv models.Invoice) string {
	parts := []string{inv.ReceiverName}
	if inv.ReceiverApartment != nil {
		parts = append(parts, *inv.ReceiverApartment)
	}
	return strings.Join(parts, ", ")
}

func dueDate(due *time.Time) string {
	if due == nil || due.IsZero() {
		return "on receipt"
	}
	return due.Format("02.01.2006")
}

func amount(cents int64, currency string) string {
	return money.Format(cents) + " " + strings.ToUpper(currency)
}

package pdf

import (
	"context"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Receipt describes one credited token purchase.
type Receipt struct {
	Number      string
	IssuedAt    time.Time
	AccountName string
	Email       string
	Tokens      int64
	UnitPrice   int64
	AmountTotal int64
	Currency    string
}

type PDFProvider struct {
	// Issuer is printed in the receipt header.
	Issuer string
}

func New(issuer string) Provider {
	return &PDFProvider{Issuer: issuer}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, r Receipt) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Tokens <= 0 {
		return nil, fmt.Errorf("receipt %q has no tokens", r.Number)
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(25,
		text.NewCol(8, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, p.Issuer, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	paidOn := r.IssuedAt.UTC().Format("January 2, 2006")
	m.AddRow(20,
		col.New(6).Add(
			text.New("Receipt number: "+r.Number, props.Text{Top: 0}),
			text.New("Date paid: "+paidOn, props.Text{Top: 4}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(r.AccountName, props.Text{Top: 5}),
			text.New(r.Email, props.Text{Top: 9}),
		),
	)

	total := FormatMinor(r.AmountTotal, r.Currency)
	m.AddRow(15,
		text.NewCol(12, total+" paid on "+paidOn, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(15,
		text.NewCol(6, "Export tokens", props.Text{Size: 9}),
		text.NewCol(2, fmt.Sprintf("%d", r.Tokens), props.Text{Size: 9, Align: align.Right}),
		text.NewCol(2, FormatMinor(r.UnitPrice, r.Currency), props.Text{Size: 9, Align: align.Right}),
		text.NewCol(2, total, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, total, props.Text{Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

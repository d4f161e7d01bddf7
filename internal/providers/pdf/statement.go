package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// StatementData is a payout run ready for printing. Amounts are preformatted.
type StatementData struct {
	Label        string
	Period       string
	RunID        string
	Status       string
	IssuedAt     string
	BaseCurrency string
	ArtistRate   string

	Lines []StatementLine

	Revenue     string
	ArtistShare string
	LabelShare  string
	Costs       string
	Notes       []string
}

type StatementLine struct {
	Artist         string
	Platform       string
	Currency       string
	Events         int
	AmountOriginal string
	FXRate         string
	AmountBase     string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) RenderStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Royalty statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Label: "+data.Label, props.Text{Top: 0}),
			text.New("Period: "+data.Period, props.Text{Top: 5}),
			text.New("Run: "+data.RunID, props.Text{Top: 10}),
			text.New("Status: "+data.Status, props.Text{Top: 15}),
		),
		col.New(6).Add(
			text.New("Issued: "+data.IssuedAt, props.Text{Top: 0, Align: align.Right}),
			text.New("Base currency: "+data.BaseCurrency, props.Text{Top: 5, Align: align.Right}),
			text.New("Artist rate: "+data.ArtistRate, props.Text{Top: 10, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(3, "Artist", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Platform", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(1, "Events", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Original", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Rate", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range data.Lines {
		m.AddRow(8,
			text.NewCol(3, line.Artist, props.Text{Size: 9}),
			text.NewCol(2, line.Platform, props.Text{Size: 9}),
			text.NewCol(1, fmt.Sprintf("%d", line.Events), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.Currency+" "+line.AmountOriginal, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.FXRate, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.AmountBase, props.Text{Size: 9, Align: align.Right}),
		)
	}

	totals := [][2]string{
		{"Revenue", data.Revenue},
		{"Artist share", data.ArtistShare},
		{"Label share", data.LabelShare},
		{"Costs (not deducted)", data.Costs},
	}
	for i, t := range totals {
		style := fontstyle.Normal
		if i == 1 {
			style = fontstyle.Bold
		}
		m.AddRow(8,
			col.New(7),
			text.NewCol(3, t[0], props.Text{Size: 9, Style: style}),
			text.NewCol(2, t[1], props.Text{Size: 9, Style: style, Align: align.Right}),
		)
	}

	for _, note := range data.Notes {
		m.AddRow(6, text.NewCol(12, note, props.Text{Size: 8, Style: fontstyle.Italic}))
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

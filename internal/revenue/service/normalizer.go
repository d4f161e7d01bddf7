package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/royaltyledger/internal/amount"
	"github.com/smallbiznis/royaltyledger/internal/catalog"
	"github.com/smallbiznis/royaltyledger/internal/config"
	fxdomain "github.com/smallbiznis/royaltyledger/internal/fxrate/domain"
	"github.com/smallbiznis/royaltyledger/internal/period"
	referencedomain "github.com/smallbiznis/royaltyledger/internal/reference/domain"
	"github.com/smallbiznis/royaltyledger/internal/revenue/domain"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type NormalizerParams struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	Reference referencedomain.Registry
	FX        fxdomain.Service
	Catalog   catalog.Linker
}

type Normalizer struct {
	base      string
	log       *zap.Logger
	reference referencedomain.Registry
	fx        fxdomain.Service
	catalog   catalog.Linker
}

func NewNormalizer(p NormalizerParams) domain.Normalizer {
	base := strings.ToUpper(strings.TrimSpace(p.Config.BaseCurrency))
	if base == "" {
		base = "EUR"
	}
	return &Normalizer{
		base:      base,
		log:       p.Log.Named("revenue.normalizer"),
		reference: p.Reference,
		fx:        p.FX,
		catalog:   p.Catalog,
	}
}

func (n *Normalizer) Normalize(ctx context.Context, in domain.NormalizeInput) (domain.NormalizedEvent, error) {
	f := in.Adapter.Extract(in.Row)

	currency := strings.ToUpper(strings.TrimSpace(f.Currency))
	if len(currency) != 3 {
		currency = in.Adapter.DefaultCurrency()
	}

	net, netInvalid := parseAmount(f.Net)
	gross, grossInvalid := parseAmount(f.Gross)
	switch {
	case f.Net == "" && f.Gross != "":
		net = gross.Sub(fees(f)).Round(8)
		netInvalid = grossInvalid
	case f.Gross == "":
		gross = net
	}
	invalid := netInvalid || grossInvalid

	occurredAt, granular := in.Period.Start, true
	if s, ok := period.ParseSettlement(f.Settlement); ok {
		occurredAt, granular = s.Time, s.Granular
	}

	quote, err := n.fx.Quote(ctx, occurredAt, currency, n.base)
	if err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("fx quote %s/%s: %w", currency, n.base, err)
	}
	base := net.Mul(quote.Rate).Round(8)

	if invalid {
		n.log.Warn("amount not parseable, recorded as zero",
			zap.String("vendor", string(in.Adapter.Name())),
			zap.Int("row", in.Row.Ordinal),
			zap.String("net", f.Net),
			zap.String("gross", f.Gross),
		)
	}

	if in.StatementType == vendor.StatementEncodingCost {
		return domain.NormalizedEvent{
			Kind: domain.KindCost,
			Cost: &domain.CostEvent{
				RowOrdinal:     in.Row.Ordinal,
				Label:          in.Label,
				Vendor:         string(in.Adapter.Name()),
				OccurredAt:     occurredAt,
				PeriodGranular: granular,
				PeriodKey:      in.Period.Key(),
				Currency:       currency,
				AmountOriginal: net,
				BaseCurrency:   n.base,
				AmountBase:     base,
				FXRate:         quote.Rate,
				FXApproximate:  quote.Approximate,
				Description:    firstNonEmpty(f.Description, f.ProductType),
				ArtistName:     f.Artist,
				TrackTitle:     f.Title,
				ISRC:           f.ISRC,
				AmountInvalid:  invalid,
			},
			AmountInvalid: invalid,
			Approximate:   quote.Approximate,
		}, nil
	}

	platformID, err := n.reference.PlatformID(ctx, in.Adapter.Platform())
	if err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("resolve platform: %w", err)
	}
	storeName := strings.TrimSpace(f.Store)
	if storeName == "" && in.Adapter.Name() == vendor.Bandcamp {
		storeName = in.Adapter.Platform()
	}
	var storeID *snowflake.ID
	if id, err := n.reference.StoreID(ctx, platformID, storeName); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("resolve store: %w", err)
	} else if id != 0 {
		storeID = &id
	}

	link := n.catalog.Link(ctx, catalog.Query{ISRC: f.ISRC, CatalogNumber: f.CatalogNumber, Artist: f.Artist})

	ev := &domain.RevenueEvent{
		RowOrdinal:     in.Row.Ordinal,
		Label:          in.Label,
		Vendor:         string(in.Adapter.Name()),
		PlatformID:     platformID,
		Platform:       in.Adapter.Platform(),
		StoreID:        storeID,
		StoreName:      storeName,
		OccurredAt:     occurredAt,
		PeriodGranular: granular,
		PeriodKey:      in.Period.Key(),
		Currency:       currency,
		AmountOriginal: net,
		GrossOriginal:  gross,
		BaseCurrency:   n.base,
		AmountBase:     base,
		FXRate:         quote.Rate,
		FXApproximate:  quote.Approximate,
		FXSource:       quote.Source,
		Quantity:       parseQuantity(f.Quantity),
		ProductType:    f.ProductType,
		AmountInvalid:  invalid,
		ArtistName:     f.Artist,
		TrackTitle:     f.Title,
		ISRC:           strings.ToUpper(f.ISRC),
		UPC:            f.UPC,
		CatalogNumber:  firstNonEmpty(f.CatalogNumber, f.LabelOrderNr),
		Country:        f.Country,
		TrackID:        link.TrackID,
		ReleaseID:      link.ReleaseID,
		ArtistID:       link.ArtistID,
	}
	return domain.NormalizedEvent{
		Kind:          domain.KindRevenue,
		Revenue:       ev,
		AmountInvalid: invalid,
		Approximate:   quote.Approximate,
	}, nil
}

// parseAmount treats an empty cell as zero and an unreadable one as zero
// flagged invalid.
func parseAmount(raw string) (decimal.Decimal, bool) {
	v, err := amount.Parse(raw)
	switch {
	case err == nil:
		return v, false
	case errors.Is(err, amount.ErrEmpty):
		return decimal.Zero, false
	default:
		return decimal.Zero, true
	}
}

func fees(f vendor.Fields) decimal.Decimal {
	total := decimal.Zero
	for _, raw := range []string{f.TransactionFees, f.MarketplaceFees} {
		if v, invalid := parseAmount(raw); !invalid {
			total = total.Add(v.Abs())
		}
	}
	return total
}

func parseQuantity(raw string) int64 {
	v, invalid := parseAmount(raw)
	if invalid {
		return 0
	}
	return v.IntPart()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

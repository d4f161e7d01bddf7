package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/royaltyledger/internal/clock"
	"github.com/smallbiznis/royaltyledger/internal/config"
	fxdomain "github.com/smallbiznis/royaltyledger/internal/fxrate/domain"
	obsmetrics "github.com/smallbiznis/royaltyledger/internal/observability/metrics"
	"github.com/smallbiznis/royaltyledger/internal/period"
	revenuedomain "github.com/smallbiznis/royaltyledger/internal/revenue/domain"
	sourcefiledomain "github.com/smallbiznis/royaltyledger/internal/sourcefile/domain"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	"github.com/smallbiznis/royaltyledger/internal/warehouse/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	insertBatchSize  = 500
	classTransaction = "transaction"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	FX         fxdomain.Service
	Normalizer revenuedomain.Normalizer
	Vendors    *vendor.Registry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	fx         fxdomain.Service
	normalizer revenuedomain.Normalizer
	vendors    *vendor.Registry
	obsMetrics *obsmetrics.Metrics
	clock      clock.Clock
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("warehouse.service"),
		fx:         p.FX,
		normalizer: p.Normalizer,
		vendors:    p.Vendors,
		obsMetrics: p.ObsMetrics,
		clock:      c,
	}
}

// Rebuild replaces the fact table with a projection of the current head
// events. Reads and conversions happen before the write transaction, which
// then empties and repopulates the table in one step.
func (s *Service) Rebuild(ctx context.Context) (domain.BuildResult, error) {
	started := s.clock.Now()

	var events []revenuedomain.RevenueEvent
	if err := s.db.WithContext(ctx).
		Where(sourcefiledomain.HeadFilter).
		Order("occurred_at ASC, source_file_id ASC, row_ordinal ASC").
		Find(&events).Error; err != nil {
		return domain.BuildResult{}, fmt.Errorf("load revenue events: %w", err)
	}

	rates := newRateBook(s.fx)
	facts := make([]domain.Fact, 0, len(events))
	result := domain.BuildResult{}
	for i := range events {
		fact, err := rates.expand(ctx, factFromEvent(&events[i]))
		if err != nil {
			return domain.BuildResult{}, err
		}
		facts = append(facts, fact)
		result.FromEvents++
	}

	fallback, vendors, err := s.rawFallback(ctx, rates)
	if err != nil {
		return domain.BuildResult{}, err
	}
	facts = append(facts, fallback...)
	result.FromRaw = len(fallback)
	result.RawVendors = vendors

	sort.SliceStable(facts, func(i, j int) bool { return factLess(facts[i], facts[j]) })
	for i := range facts {
		facts[i].ID = int64(i + 1)
		if facts[i].FXApproximate {
			result.Approximate++
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.Fact{}).Error; err != nil {
			return fmt.Errorf("truncate facts: %w", err)
		}
		if len(facts) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(facts, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert facts: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.BuildResult{}, err
	}

	result.Facts = len(facts)
	result.Duration = s.clock.Now().Sub(started)
	s.obsMetrics.RecordWarehouseBuild(ctx, result.Facts)
	s.log.Info("warehouse rebuilt",
		zap.Int("facts", result.Facts),
		zap.Int("from_events", result.FromEvents),
		zap.Int("from_raw", result.FromRaw),
		zap.Strings("raw_vendors", result.RawVendors),
		zap.Int("approximate", result.Approximate),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// rawFallback re-normalizes captured transaction rows of every vendor that
// has captured rows but no normalized revenue events.
func (s *Service) rawFallback(ctx context.Context, rates *rateBook) ([]domain.Fact, []string, error) {
	var withEvents []string
	if err := s.db.WithContext(ctx).
		Model(&revenuedomain.RevenueEvent{}).
		Where(sourcefiledomain.HeadFilter).
		Distinct("vendor").
		Pluck("vendor", &withEvents).Error; err != nil {
		return nil, nil, fmt.Errorf("list vendors with events: %w", err)
	}

	q := s.db.WithContext(ctx).
		Where(sourcefiledomain.HeadFilter).
		Where("class = ? AND statement_type <> ?", classTransaction, string(vendor.StatementEncodingCost))
	if len(withEvents) > 0 {
		q = q.Where("vendor NOT IN ?", withEvents)
	}
	var rows []revenuedomain.RawVendorRow
	if err := q.Order("vendor ASC, source_file_id ASC, row_ordinal ASC").Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("load raw rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	facts := make([]domain.Fact, 0, len(rows))
	var vendors []string
	for i := range rows {
		raw := &rows[i]
		adapter, ok := s.vendors.Get(vendor.Name(raw.Vendor))
		if !ok {
			s.log.Warn("raw rows of unknown vendor skipped", zap.String("vendor", raw.Vendor))
			continue
		}
		p, err := period.FromPath(raw.PeriodKey)
		if err != nil {
			s.log.Warn("raw row with unparseable period skipped",
				zap.String("vendor", raw.Vendor),
				zap.String("period", raw.PeriodKey),
				zap.Int("row", raw.RowOrdinal),
			)
			continue
		}
		row, err := rowFromCapture(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("decode raw row %d: %w", raw.ID, err)
		}
		ev, err := s.normalizer.Normalize(ctx, revenuedomain.NormalizeInput{
			Label:         raw.Label,
			Adapter:       adapter,
			StatementType: vendor.StatementType(raw.StatementType),
			Period:        p,
			Row:           row,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("normalize raw row %d: %w", raw.ID, err)
		}
		if ev.Kind != revenuedomain.KindRevenue || ev.Revenue == nil {
			continue
		}
		fact := factFromEvent(ev.Revenue)
		fact.Origin = domain.OriginRaw
		fact.OriginID = raw.ID
		fact.SourceFileID = raw.SourceFileID
		fact.Label = raw.Label
		fact, err = rates.expand(ctx, fact)
		if err != nil {
			return nil, nil, err
		}
		facts = append(facts, fact)
		if len(vendors) == 0 || vendors[len(vendors)-1] != raw.Vendor {
			vendors = append(vendors, raw.Vendor)
		}
	}
	if len(vendors) > 0 {
		s.log.Info("warehouse used raw capture", zap.Strings("vendors", vendors), zap.Int("rows", len(facts)))
	}
	return facts, vendors, nil
}

func (s *Service) Totals(ctx context.Context) (domain.Totals, error) {
	var facts []domain.Fact
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&facts).Error; err != nil {
		return domain.Totals{}, fmt.Errorf("load facts: %w", err)
	}
	totals := domain.Totals{
		Facts:      len(facts),
		AmountBase: decimal.Zero,
		RevenueEUR: decimal.Zero,
		RevenueUSD: decimal.Zero,
		RevenueBRL: decimal.Zero,
		ByVendor:   map[string]decimal.Decimal{},
	}
	for _, f := range facts {
		totals.AmountBase = totals.AmountBase.Add(f.AmountBase)
		totals.RevenueEUR = totals.RevenueEUR.Add(f.RevenueEUR)
		totals.RevenueUSD = totals.RevenueUSD.Add(f.RevenueUSD)
		totals.RevenueBRL = totals.RevenueBRL.Add(f.RevenueBRL)
		totals.ByVendor[f.Vendor] = totals.ByVendor[f.Vendor].Add(f.AmountBase)
	}
	return totals, nil
}

func factFromEvent(ev *revenuedomain.RevenueEvent) domain.Fact {
	at := ev.OccurredAt.UTC()
	fact := domain.Fact{
		Origin:         domain.OriginEvent,
		OriginID:       ev.ID,
		SourceFileID:   ev.SourceFileID,
		RowOrdinal:     ev.RowOrdinal,
		Label:          ev.Label,
		Vendor:         ev.Vendor,
		Platform:       ev.Platform,
		StoreName:      ev.StoreName,
		OccurredAt:     at,
		PeriodGranular: ev.PeriodGranular,
		Year:           at.Year(),
		Quarter:        (int(at.Month())-1)/3 + 1,
		Month:          int(at.Month()),
		Currency:       ev.Currency,
		AmountOriginal: ev.AmountOriginal,
		BaseCurrency:   ev.BaseCurrency,
		AmountBase:     ev.AmountBase,
		FXApproximate:  ev.FXApproximate,
		Quantity:       ev.Quantity,
		ProductType:    ev.ProductType,
		ArtistName:     ev.ArtistName,
		TrackTitle:     ev.TrackTitle,
		ISRC:           ev.ISRC,
	}
	if ev.ArtistID != nil {
		fact.ArtistID = ev.ArtistID.String()
	}
	if ev.TrackID != nil {
		fact.TrackID = ev.TrackID.String()
	}
	return fact
}

func factLess(a, b domain.Fact) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	if a.SourceFileID != b.SourceFileID {
		return a.SourceFileID < b.SourceFileID
	}
	if a.RowOrdinal != b.RowOrdinal {
		return a.RowOrdinal < b.RowOrdinal
	}
	return a.Origin < b.Origin
}

// rowFromCapture rebuilds a vendor row from its captured header and values.
func rowFromCapture(raw *revenuedomain.RawVendorRow) (vendor.Row, error) {
	var columns []string
	if len(raw.Columns) > 0 {
		if err := json.Unmarshal(raw.Columns, &columns); err != nil {
			return vendor.Row{}, err
		}
	}
	values := make([]string, len(columns))
	for i, col := range columns {
		key := col
		if strings.TrimSpace(key) == "" {
			key = "column_" + strconv.Itoa(i+1)
		}
		if v, ok := raw.Raw[key]; ok && v != nil {
			values[i] = fmt.Sprint(v)
		}
	}
	return vendor.Row{Ordinal: raw.RowOrdinal, Header: vendor.NewHeader(columns), Values: values}, nil
}

// rateBook memoizes the quotes of one rebuild so every fact of a day and
// pair is expanded with the same rate.
type rateBook struct {
	fx     fxdomain.Service
	quotes map[string]fxdomain.Quote
}

func newRateBook(fx fxdomain.Service) *rateBook {
	return &rateBook{fx: fx, quotes: map[string]fxdomain.Quote{}}
}

func (b *rateBook) quote(ctx context.Context, at time.Time, from, to string) (fxdomain.Quote, error) {
	key := fxdomain.DateKey(at) + ":" + from + ":" + to
	if q, ok := b.quotes[key]; ok {
		return q, nil
	}
	q, err := b.fx.Quote(ctx, at, from, to)
	if err != nil {
		return fxdomain.Quote{}, fmt.Errorf("fx quote %s/%s: %w", from, to, err)
	}
	b.quotes[key] = q
	return q, nil
}

// expand fills the reporting currency columns. The original amount is used
// as-is for its own currency; every other column converts the base amount.
func (b *rateBook) expand(ctx context.Context, fact domain.Fact) (domain.Fact, error) {
	for _, ccy := range domain.ReportingCurrencies {
		var value decimal.Decimal
		switch ccy {
		case fact.Currency:
			value = fact.AmountOriginal
		case fact.BaseCurrency:
			value = fact.AmountBase
		default:
			q, err := b.quote(ctx, fact.OccurredAt, fact.BaseCurrency, ccy)
			if err != nil {
				return domain.Fact{}, err
			}
			value = fact.AmountBase.Mul(q.Rate).Round(8)
			if q.Approximate {
				fact.FXApproximate = true
			}
		}
		switch ccy {
		case "EUR":
			fact.RevenueEUR = value
		case "USD":
			fact.RevenueUSD = value
		case "BRL":
			fact.RevenueBRL = value
		}
	}
	return fact, nil
}

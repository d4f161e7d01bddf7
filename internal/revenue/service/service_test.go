package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/royaltyledger/internal/catalog"
	"github.com/smallbiznis/royaltyledger/internal/config"
	fxdomain "github.com/smallbiznis/royaltyledger/internal/fxrate/domain"
	"github.com/smallbiznis/royaltyledger/internal/period"
	referencedomain "github.com/smallbiznis/royaltyledger/internal/reference/domain"
	"github.com/smallbiznis/royaltyledger/internal/revenue/domain"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	"github.com/smallbiznis/royaltyledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubReference struct{}

func (stubReference) Init(context.Context) error { return nil }
func (stubReference) PlatformID(_ context.Context, name string) (snowflake.ID, error) {
	if name == "Bandcamp" {
		return 1, nil
	}
	return 2, nil
}
func (stubReference) StoreID(_ context.Context, _ snowflake.ID, name string) (snowflake.ID, error) {
	if name == "" {
		return 0, nil
	}
	return 10, nil
}
func (stubReference) Currency(context.Context, string) (*referencedomain.Currency, error) {
	return nil, nil
}

type mockFX struct {
	mock.Mock
}

func (m *mockFX) Quote(ctx context.Context, date time.Time, from, to string) (fxdomain.Quote, error) {
	args := m.Called(ctx, date, from, to)
	return args.Get(0).(fxdomain.Quote), args.Error(1)
}

func (m *mockFX) Record(context.Context, time.Time, string, string, decimal.Decimal) (*fxdomain.Rate, error) {
	return nil, nil
}

func (m *mockFX) List(context.Context, string, string) ([]fxdomain.Rate, error) {
	return nil, nil
}

type stubLinker struct{}

func (stubLinker) Link(context.Context, catalog.Query) catalog.Link { return catalog.Link{} }

func identityFX() *mockFX {
	m := &mockFX{}
	m.On("Quote", mock.Anything, mock.Anything, "EUR", "EUR").
		Return(fxdomain.Quote{Rate: decimal.NewFromInt(1), Source: fxdomain.SourceIdentity}, nil)
	return m
}

func newNormalizer(fx fxdomain.Service) domain.Normalizer {
	return NewNormalizer(NormalizerParams{
		Config:    config.Config{BaseCurrency: "EUR"},
		Log:       zap.NewNop(),
		Reference: stubReference{},
		FX:        fx,
		Catalog:   stubLinker{},
	})
}

func row(ordinal int, header []string, values ...string) vendor.Row {
	return vendor.Row{Ordinal: ordinal, Header: vendor.NewHeader(header), Values: values}
}

func TestNormalize_ZebralutionMonthPeriod(t *testing.T) {
	q1, err := period.Quarter(2024, 1)
	require.NoError(t, err)
	n := newNormalizer(identityFX())

	ev, err := n.Normalize(context.Background(), domain.NormalizeInput{
		Label:         "night-owl",
		Adapter:       vendor.NewZebralution(config.DefaultPolicy()),
		StatementType: vendor.StatementRoyalty,
		Period:        q1,
		Row:           row(1, []string{"Artist", "Title", "Period", "Sales", "Rev"}, "A", "T1", "2024-01", "10", "5.00"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.KindRevenue, ev.Kind)

	r := ev.Revenue
	assert.True(t, r.AmountOriginal.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, r.AmountBase.Equal(decimal.RequireFromString("5.00")))
	assert.Equal(t, "EUR", r.Currency)
	assert.Equal(t, int64(10), r.Quantity)
	assert.True(t, r.PeriodGranular)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), r.OccurredAt)
	assert.Equal(t, "Distribution", r.Platform)
	assert.False(t, ev.AmountInvalid)
}

func TestNormalize_BandcampConvertsAndDerivesNet(t *testing.T) {
	r1, err := period.Range(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	fx := &mockFX{}
	fx.On("Quote", mock.Anything, time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC), "USD", "EUR").
		Return(fxdomain.Quote{Rate: decimal.RequireFromString("0.9"), Approximate: true, Source: fxdomain.SourceFallback}, nil)
	n := newNormalizer(fx)

	header := []string{"date", "item type", "item name", "artist", "quantity", "item total", "transaction fee", "marketplace fee", "currency"}
	ev, err := n.Normalize(context.Background(), domain.NormalizeInput{
		Adapter:       vendor.NewBandcamp(config.DefaultPolicy()),
		StatementType: vendor.StatementDirectSales,
		Period:        r1,
		Row:           row(3, header, "2024-02-03 10:00:00", "album", "Nocturnes", "Night Owl", "1", "10.00", "-0.80", "-1.50", "USD"),
	})
	require.NoError(t, err)
	fx.AssertExpectations(t)

	r := ev.Revenue
	assert.True(t, r.GrossOriginal.Equal(decimal.RequireFromString("10")))
	assert.True(t, r.AmountOriginal.Equal(decimal.RequireFromString("7.70")), r.AmountOriginal.String())
	assert.True(t, r.AmountBase.Equal(decimal.RequireFromString("6.93")), r.AmountBase.String())
	assert.True(t, r.FXApproximate)
	assert.True(t, ev.Approximate)
	assert.False(t, r.PeriodGranular)
	assert.Equal(t, "Bandcamp", r.StoreName)
	require.NotNil(t, r.StoreID)
	assert.Equal(t, "album", r.ProductType)
}

func TestNormalize_InvalidAmountIsZeroAndFlagged(t *testing.T) {
	q1, _ := period.Quarter(2024, 1)
	n := newNormalizer(identityFX())

	ev, err := n.Normalize(context.Background(), domain.NormalizeInput{
		Adapter:       vendor.NewZebralution(config.DefaultPolicy()),
		StatementType: vendor.StatementRoyalty,
		Period:        q1,
		Row:           row(1, []string{"Artist", "Title", "Period", "Rev"}, "A", "T1", "2024-02", "n/a"),
	})
	require.NoError(t, err)
	assert.True(t, ev.AmountInvalid)
	assert.True(t, ev.Revenue.AmountOriginal.IsZero())

	empty, err := n.Normalize(context.Background(), domain.NormalizeInput{
		Adapter:       vendor.NewZebralution(config.DefaultPolicy()),
		StatementType: vendor.StatementRoyalty,
		Period:        q1,
		Row:           row(2, []string{"Artist", "Title", "Period", "Rev"}, "A", "T2", "2024-02", ""),
	})
	require.NoError(t, err)
	assert.False(t, empty.AmountInvalid)
}

func TestNormalize_EncodingCostBecomesCostEvent(t *testing.T) {
	q1, _ := period.Quarter(2024, 1)
	n := newNormalizer(identityFX())

	ev, err := n.Normalize(context.Background(), domain.NormalizeInput{
		Adapter:       vendor.NewZebralution(config.DefaultPolicy()),
		StatementType: vendor.StatementEncodingCost,
		Period:        q1,
		Row:           row(1, []string{"Artist", "Title", "Period", "Rev"}, "A", "T1", "2024-03", "-12.00"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.KindCost, ev.Kind)
	assert.True(t, ev.Cost.AmountOriginal.Equal(decimal.RequireFromString("-12")))
}

func setupWriter(t *testing.T) (domain.Writer, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.RevenueEvent{}, &domain.CostEvent{}, &domain.RawVendorRow{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewWriter(WriterParams{Log: zap.NewNop(), GenID: node}), conn
}

func revenueEvent(ordinal int, amount string) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		Kind: domain.KindRevenue,
		Revenue: &domain.RevenueEvent{
			RowOrdinal:     ordinal,
			Label:          "night-owl",
			Vendor:         "zebralution",
			PlatformID:     2,
			Platform:       "Distribution",
			OccurredAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			PeriodKey:      "2024-Q1",
			Currency:       "EUR",
			AmountOriginal: decimal.RequireFromString(amount),
			GrossOriginal:  decimal.RequireFromString(amount),
			BaseCurrency:   "EUR",
			AmountBase:     decimal.RequireFromString(amount),
			FXRate:         decimal.NewFromInt(1),
			FXSource:       fxdomain.SourceIdentity,
			ArtistName:     "A",
			TrackTitle:     "T1",
		},
	}
}

func TestWriter_InsertOrIgnore(t *testing.T) {
	w, conn := setupWriter(t)
	ctx := context.Background()
	events := []domain.NormalizedEvent{revenueEvent(1, "5.00"), revenueEvent(2, "5.00")}

	first, err := w.WriteAll(ctx, conn, 100, events)
	require.NoError(t, err)
	assert.Equal(t, domain.WriteResult{Written: 2}, first)

	second, err := w.WriteAll(ctx, conn, 100, events)
	require.NoError(t, err)
	assert.Equal(t, domain.WriteResult{AlreadyPresent: 2}, second)

	// The same rows under a correcting file are new events.
	corrected, err := w.WriteAll(ctx, conn, 101, events)
	require.NoError(t, err)
	assert.Equal(t, 2, corrected.Written)

	var count int64
	require.NoError(t, conn.Model(&domain.RevenueEvent{}).Count(&count).Error)
	assert.Equal(t, int64(4), count)

	_, err = w.Write(ctx, conn, 0, events[0])
	assert.ErrorIs(t, err, domain.ErrMissingSourceFile)
}

func TestIdentityHash_Stable(t *testing.T) {
	a := IdentityHash(1, 1, "zebralution", "A", "T1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, IdentityHash(1, 1, "zebralution", "A", "T1"))
	assert.NotEqual(t, a, IdentityHash(1, 2, "zebralution", "A", "T1"))
	assert.NotEqual(t, a, IdentityHash(2, 1, "zebralution", "A", "T1"))
}

func TestWriter_Capture(t *testing.T) {
	w, conn := setupWriter(t)
	ctx := context.Background()
	header := []string{"Artist", "Title", "Rev"}
	in := domain.CaptureInput{
		Label:         "night-owl",
		Vendor:        vendor.Zebralution,
		StatementType: vendor.StatementRoyalty,
		PeriodKey:     "2024-Q1",
		Rows: []domain.CapturedRow{
			{Row: row(1, header, "A", "T1", "5.00"), Class: "transaction"},
			{Row: row(2, header, "TOTAL", "", "5.00"), Class: "noise", Reason: vendor.NoiseSummaryKeyword},
		},
	}

	n, err := w.Capture(ctx, conn, 100, in)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = w.Capture(ctx, conn, 100, in)
	require.NoError(t, err)
	assert.Zero(t, n)

	var stored domain.RawVendorRow
	require.NoError(t, conn.Where("row_ordinal = ?", 1).Take(&stored).Error)
	assert.Equal(t, "T1", stored.Raw["Title"])
}

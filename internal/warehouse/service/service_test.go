package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/royaltyledger/internal/catalog"
	"github.com/smallbiznis/royaltyledger/internal/config"
	fxdomain "github.com/smallbiznis/royaltyledger/internal/fxrate/domain"
	fxservice "github.com/smallbiznis/royaltyledger/internal/fxrate/service"
	"github.com/smallbiznis/royaltyledger/internal/reference"
	referencedomain "github.com/smallbiznis/royaltyledger/internal/reference/domain"
	revenuedomain "github.com/smallbiznis/royaltyledger/internal/revenue/domain"
	revenueservice "github.com/smallbiznis/royaltyledger/internal/revenue/service"
	sourcefiledomain "github.com/smallbiznis/royaltyledger/internal/sourcefile/domain"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	"github.com/smallbiznis/royaltyledger/internal/warehouse/domain"
	"github.com/smallbiznis/royaltyledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setup(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&sourcefiledomain.SourceFile{},
		&revenuedomain.RevenueEvent{},
		&revenuedomain.RawVendorRow{},
		&referencedomain.Platform{},
		&referencedomain.Store{},
		&referencedomain.Currency{},
		&fxdomain.Rate{},
		&domain.Fact{},
	))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{BaseCurrency: "EUR", FX: config.FXConfig{Offline: true}}
	policy := config.DefaultPolicy()
	log := zap.NewNop()

	rates := fxservice.NewService(fxservice.Params{DB: conn, Log: log, GenID: node, Config: cfg, Policy: policy})
	registry := reference.NewRegistry(reference.RegistryParams{DB: conn, Repo: reference.NewRepository(), Log: log, GenID: node})
	require.NoError(t, registry.Init(context.Background()))

	normalizer := revenueservice.NewNormalizer(revenueservice.NormalizerParams{
		Config:    cfg,
		Log:       log,
		Reference: registry,
		FX:        rates,
		Catalog:   catalog.NewLinker(catalog.Params{DB: conn, Log: log}),
	})

	return NewService(Params{
		DB:         conn,
		Log:        log,
		Config:     cfg,
		FX:         rates,
		Normalizer: normalizer,
		Vendors:    vendor.NewRegistry(policy),
	}), conn
}

func seedEvent(t *testing.T, conn *gorm.DB, id, sourceFileID snowflake.ID, ordinal int, currency, original, base string, at time.Time) {
	t.Helper()
	require.NoError(t, conn.Create(&revenuedomain.RevenueEvent{
		ID:             id,
		SourceFileID:   sourceFileID,
		RowOrdinal:     ordinal,
		IdentityHash:   strings.Repeat(string(rune('a'+int(id%20))), 64),
		Label:          "night-owl",
		Vendor:         "zebralution",
		PlatformID:     1,
		Platform:       "Distribution",
		OccurredAt:     at,
		PeriodKey:      "2024-Q1",
		Currency:       currency,
		AmountOriginal: decimal.RequireFromString(original),
		GrossOriginal:  decimal.RequireFromString(original),
		BaseCurrency:   "EUR",
		AmountBase:     decimal.RequireFromString(base),
		FXRate:         decimal.NewFromInt(1),
		FXSource:       fxdomain.SourceIdentity,
		CreatedAt:      at,
	}).Error)
}

func seedRaw(t *testing.T, conn *gorm.DB, id snowflake.ID, ordinal int, class string, values ...string) {
	t.Helper()
	columns := []string{"Track Artist", "Track Title", "ISRC", "Royalty", "Currency"}
	encoded, err := json.Marshal(columns)
	require.NoError(t, err)
	raw := datatypes.JSONMap{}
	for i, col := range columns {
		raw[col] = values[i]
	}
	require.NoError(t, conn.Create(&revenuedomain.RawVendorRow{
		ID:            id,
		SourceFileID:  500,
		RowOrdinal:    ordinal,
		Label:         "night-owl",
		Vendor:        "labelworx",
		StatementType: string(vendor.StatementRoyalty),
		PeriodKey:     "2024-Q1",
		Class:         class,
		Columns:       datatypes.JSON(encoded),
		Raw:           raw,
		CreatedAt:     time.Now(),
	}).Error)
}

func seedTree(t *testing.T, conn *gorm.DB) {
	seedEvent(t, conn, 1, 100, 1, "EUR", "5.00", "5.00", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	seedEvent(t, conn, 2, 100, 2, "USD", "11.00", "10.00", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	seedRaw(t, conn, 10, 1, "transaction", "B", "T9", "DEAB12400001", "2.50", "EUR")
	seedRaw(t, conn, 11, 2, "noise", "TOTAL", "", "", "2.50", "")
}

func TestRebuild_ExpandsCurrencies(t *testing.T) {
	svc, conn := setup(t)
	seedTree(t, conn)

	res, err := svc.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Facts)
	assert.Equal(t, 2, res.FromEvents)
	assert.Equal(t, 1, res.FromRaw)
	assert.Equal(t, []string{"labelworx"}, res.RawVendors)

	var facts []domain.Fact
	require.NoError(t, conn.Order("id ASC").Find(&facts).Error)
	require.Len(t, facts, 3)

	eur := facts[0]
	assert.Equal(t, domain.OriginEvent, eur.Origin)
	assert.True(t, eur.RevenueEUR.Equal(decimal.RequireFromString("5")), eur.RevenueEUR.String())
	// static table: 1 EUR = 6.00/5.50 USD = 6.00 BRL
	assert.True(t, eur.RevenueUSD.Equal(decimal.RequireFromString("5.45454545")), eur.RevenueUSD.String())
	assert.True(t, eur.RevenueBRL.Equal(decimal.RequireFromString("30")), eur.RevenueBRL.String())
	assert.True(t, eur.FXApproximate)
	assert.Equal(t, 1, eur.Quarter)

	usd := facts[2]
	assert.Equal(t, "USD", usd.Currency)
	assert.True(t, usd.RevenueUSD.Equal(decimal.RequireFromString("11")), usd.RevenueUSD.String())
	assert.True(t, usd.RevenueEUR.Equal(decimal.RequireFromString("10")))

	raw := facts[1]
	assert.Equal(t, domain.OriginRaw, raw.Origin)
	assert.Equal(t, "labelworx", raw.Vendor)
	assert.Equal(t, "T9", raw.TrackTitle)
	assert.True(t, raw.AmountBase.Equal(decimal.RequireFromString("2.5")))
}

func TestRebuild_Reproducible(t *testing.T) {
	svc, conn := setup(t)
	seedTree(t, conn)
	ctx := context.Background()

	snapshot := func() (domain.Totals, []string) {
		_, err := svc.Rebuild(ctx)
		require.NoError(t, err)
		totals, err := svc.Totals(ctx)
		require.NoError(t, err)
		var facts []domain.Fact
		require.NoError(t, conn.Order("id ASC").Find(&facts).Error)
		rows := make([]string, 0, len(facts))
		for _, f := range facts {
			rows = append(rows, strings.Join([]string{
				f.Origin, f.OriginID.String(), f.RevenueEUR.String(), f.RevenueUSD.String(), f.RevenueBRL.String(),
			}, "|"))
		}
		return totals, rows
	}

	firstTotals, firstRows := snapshot()
	secondTotals, secondRows := snapshot()

	assert.Equal(t, firstRows, secondRows)
	assert.Equal(t, firstTotals.Facts, secondTotals.Facts)
	assert.Equal(t, firstTotals.RevenueEUR.StringFixed(8), secondTotals.RevenueEUR.StringFixed(8))
	assert.Equal(t, firstTotals.RevenueUSD.StringFixed(8), secondTotals.RevenueUSD.StringFixed(8))
	assert.Equal(t, firstTotals.RevenueBRL.StringFixed(8), secondTotals.RevenueBRL.StringFixed(8))
	assert.Equal(t, "17.50000000", firstTotals.AmountBase.StringFixed(8))
}

func TestRebuild_ExcludesSupersededFiles(t *testing.T) {
	svc, conn := setup(t)
	seedTree(t, conn)

	superseded := snowflake.ID(100)
	now := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, conn.Create(&sourcefiledomain.SourceFile{
		ID:            101,
		Label:         "night-owl",
		Vendor:        "zebralution",
		PeriodKey:     "2024-Q1",
		StatementType: "royalty",
		SHA256:        strings.Repeat("b", 64),
		RawSHA256:     strings.Repeat("b", 64),
		PeriodStart:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		SourcePath:    "in.csv",
		CanonicalPath: "out.csv",
		ModifiedAt:    now,
		CorrectionOf:  &superseded,
		CreatedAt:     now,
	}).Error)
	seedEvent(t, conn, 3, 101, 1, "EUR", "7.00", "7.00", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	res, err := svc.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FromEvents)

	totals, err := svc.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9.50000000", totals.AmountBase.StringFixed(8))
	assert.Equal(t, "7.00000000", totals.ByVendor["zebralution"].StringFixed(8))
}

func TestRebuild_EmptyClearsFacts(t *testing.T) {
	svc, conn := setup(t)
	require.NoError(t, conn.Create(&domain.Fact{ID: 1, Origin: domain.OriginEvent, Label: "x", Vendor: "x", Platform: "x", OccurredAt: time.Now(), Currency: "EUR", BaseCurrency: "EUR"}).Error)

	res, err := svc.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Facts)

	var count int64
	require.NoError(t, conn.Model(&domain.Fact{}).Count(&count).Error)
	assert.Zero(t, count)
}

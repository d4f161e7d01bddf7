package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/royaltyledger/internal/config"
	"github.com/smallbiznis/royaltyledger/internal/payout/domain"
	revenuedomain "github.com/smallbiznis/royaltyledger/internal/revenue/domain"
	sourcefiledomain "github.com/smallbiznis/royaltyledger/internal/sourcefile/domain"
	"github.com/smallbiznis/royaltyledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&sourcefiledomain.SourceFile{},
		&revenuedomain.RevenueEvent{},
		&revenuedomain.CostEvent{},
		&domain.Run{},
		&domain.Line{},
	))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Config: config.Config{BaseCurrency: "EUR"},
		Policy: config.DefaultPolicy(),
	}), conn
}

var seq int64

func seedEvent(t *testing.T, conn *gorm.DB, label, platform, currency, original, base string, at time.Time, approximate bool) {
	t.Helper()
	seq++
	require.NoError(t, conn.Create(&revenuedomain.RevenueEvent{
		ID:             snowflake.ID(seq),
		SourceFileID:   100,
		RowOrdinal:     int(seq),
		IdentityHash:   fmt.Sprintf("%064d", seq),
		Label:          label,
		Vendor:         "zebralution",
		PlatformID:     1,
		Platform:       platform,
		OccurredAt:     at,
		PeriodKey:      "2024-Q1",
		Currency:       currency,
		AmountOriginal: decimal.RequireFromString(original),
		GrossOriginal:  decimal.RequireFromString(original),
		BaseCurrency:   "EUR",
		AmountBase:     decimal.RequireFromString(base),
		FXRate:         decimal.NewFromInt(1),
		FXApproximate:  approximate,
		FXSource:       "identity",
		CreatedAt:      at,
	}).Error)
}

func seedPeriod(t *testing.T, conn *gorm.DB) {
	jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	seedEvent(t, conn, "night-owl", "Distribution", "EUR", "5.00", "5.00", jan, false)
	seedEvent(t, conn, "night-owl", "Distribution", "EUR", "5.00", "5.00", jan.AddDate(0, 1, 0), false)
	seedEvent(t, conn, "night-owl", "Bandcamp", "USD", "11.00", "10.00", jan, true)
	// outside the quarter and another label
	seedEvent(t, conn, "night-owl", "Distribution", "EUR", "100.00", "100.00", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), false)
	seedEvent(t, conn, "other-label", "Distribution", "EUR", "100.00", "100.00", jan, false)

	require.NoError(t, conn.Create(&revenuedomain.CostEvent{
		ID:             900,
		SourceFileID:   101,
		RowOrdinal:     1,
		IdentityHash:   strings.Repeat("c", 64),
		Label:          "night-owl",
		Vendor:         "zebralution",
		OccurredAt:     jan,
		PeriodKey:      "2024-Q1",
		Currency:       "EUR",
		AmountOriginal: decimal.RequireFromString("-12"),
		BaseCurrency:   "EUR",
		AmountBase:     decimal.RequireFromString("-12"),
		FXRate:         decimal.NewFromInt(1),
		CreatedAt:      jan,
	}).Error)
}

var q1 = domain.Request{Label: "night-owl", Year: 2024, Quarter: 1}

func TestPreview_GroupsByPlatformAndCurrency(t *testing.T) {
	svc, conn := setup(t)
	seedPeriod(t, conn)

	plan, err := svc.Preview(context.Background(), q1)
	require.NoError(t, err)

	require.Len(t, plan.Groups, 2)
	assert.Equal(t, "Bandcamp", plan.Groups[0].Platform)
	assert.Equal(t, "USD", plan.Groups[0].Currency)
	assert.True(t, plan.Groups[0].ArtistShareOriginal.Equal(decimal.RequireFromString("5.5")))
	assert.True(t, plan.Groups[0].Approximate)

	assert.Equal(t, "Distribution", plan.Groups[1].Platform)
	assert.Equal(t, 2, plan.Groups[1].Events)
	assert.True(t, plan.Groups[1].RevenueBase.Equal(decimal.RequireFromString("10")))

	assert.Equal(t, 3, plan.Events)
	assert.Equal(t, "20.00", plan.RevenueBase.StringFixed(2))
	assert.Equal(t, "10.00", plan.ArtistShare.StringFixed(2))
	assert.Equal(t, "10.00", plan.LabelShare.StringFixed(2))
	assert.Equal(t, 1, plan.Costs)
	assert.Equal(t, "-12.00", plan.CostsBase.StringFixed(2))
	assert.True(t, plan.Approximate)

	var runs int64
	require.NoError(t, conn.Model(&domain.Run{}).Count(&runs).Error)
	assert.Zero(t, runs)
}

func TestPreview_InvalidRequest(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.Preview(context.Background(), domain.Request{Label: "night-owl", Year: 2024, Quarter: 5})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = svc.Preview(context.Background(), domain.Request{Year: 2024, Quarter: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCreate_RejectsExistingRun(t *testing.T) {
	svc, conn := setup(t)
	seedPeriod(t, conn)
	ctx := context.Background()

	run, err := svc.Create(ctx, q1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComputed, run.Status)
	require.Len(t, run.Lines, 2)
	assert.Equal(t, domain.UnknownArtist, run.Lines[0].ArtistName)

	_, err = svc.Create(ctx, q1)
	assert.ErrorIs(t, err, domain.ErrRunExists)

	_, err = svc.Finalize(ctx, run.ID)
	require.NoError(t, err)

	_, err = svc.Create(ctx, q1)
	assert.ErrorIs(t, err, domain.ErrRunExists)

	var runs, lines int64
	require.NoError(t, conn.Model(&domain.Run{}).Count(&runs).Error)
	require.NoError(t, conn.Model(&domain.Line{}).Count(&lines).Error)
	assert.Equal(t, int64(1), runs)
	assert.Equal(t, int64(2), lines)
}

func TestRun_StateMachine(t *testing.T) {
	svc, conn := setup(t)
	seedPeriod(t, conn)
	ctx := context.Background()

	run, err := svc.Create(ctx, q1)
	require.NoError(t, err)
	require.NotNil(t, run.ComputedAt)

	finalized, err := svc.Finalize(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinalized, finalized.Status)
	assert.NotNil(t, finalized.FinalizedAt)
	assert.Len(t, finalized.Lines, 2)

	_, err = svc.Finalize(ctx, run.ID)
	assert.ErrorIs(t, err, domain.ErrFinalized)
	assert.ErrorIs(t, svc.Delete(ctx, run.ID), domain.ErrFinalized)

	_, err = svc.Finalize(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDelete_RemovesDraftWithLines(t *testing.T) {
	svc, conn := setup(t)
	seedPeriod(t, conn)
	ctx := context.Background()

	run, err := svc.Create(ctx, q1)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, run.ID))

	_, err = svc.Get(ctx, run.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	var lines int64
	require.NoError(t, conn.Model(&domain.Line{}).Count(&lines).Error)
	assert.Zero(t, lines)

	// a deleted draft frees the period
	_, err = svc.Create(ctx, q1)
	require.NoError(t, err)
}

func TestStatement_RendersPDF(t *testing.T) {
	svc, conn := setup(t)
	seedPeriod(t, conn)
	ctx := context.Background()

	run, err := svc.Create(ctx, q1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.Statement(ctx, run.ID, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestParseRunID(t *testing.T) {
	id, err := ParseRunID(" 1234 ")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(1234), id)
	_, err = ParseRunID("abc")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

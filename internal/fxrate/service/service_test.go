package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/royaltyledger/internal/config"
	"github.com/smallbiznis/royaltyledger/internal/fxrate/domain"
	"github.com/smallbiznis/royaltyledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetRate(ctx context.Context, date time.Time, from, to string) (decimal.Decimal, error) {
	args := m.Called(ctx, date, from, to)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func setup(t *testing.T, provider domain.Provider) (domain.Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Rate{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Policy:   config.DefaultPolicy(),
		Provider: provider,
	}), conn
}

var day = time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

func TestQuote_Identity(t *testing.T) {
	svc, _ := setup(t, nil)
	q, err := svc.Quote(context.Background(), day, "eur", "EUR")
	require.NoError(t, err)
	assert.True(t, q.Rate.Equal(decimal.NewFromInt(1)))
	assert.False(t, q.Approximate)
}

func TestQuote_ProviderRateIsStoredAndReused(t *testing.T) {
	p := &mockProvider{}
	p.On("GetRate", mock.Anything, day, "USD", "EUR").Return(decimal.RequireFromString("0.92"), nil).Once()
	svc, conn := setup(t, p)
	ctx := context.Background()

	q, err := svc.Quote(ctx, day, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.92", q.Rate.String())
	assert.False(t, q.Approximate)

	again, err := svc.Quote(ctx, day, "USD", "EUR")
	require.NoError(t, err)
	assert.True(t, q.Rate.Equal(again.Rate))
	p.AssertExpectations(t)

	var count int64
	require.NoError(t, conn.Model(&domain.Rate{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// A new service over the same table answers from storage.
	node, _ := snowflake.NewNode(2)
	fresh := NewService(Params{DB: conn, Log: zap.NewNop(), GenID: node, Policy: config.DefaultPolicy()})
	stored, err := fresh.Quote(ctx, day, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStored, stored.Source)
	assert.True(t, stored.Rate.Equal(decimal.RequireFromString("0.92")))
}

func TestQuote_FallbackIsFlaggedApproximate(t *testing.T) {
	p := &mockProvider{}
	p.On("GetRate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(decimal.Zero, domain.ErrUnavailable)
	svc, conn := setup(t, p)

	q, err := svc.Quote(context.Background(), day, "USD", "EUR")
	require.NoError(t, err)
	assert.True(t, q.Approximate)
	assert.Equal(t, domain.SourceFallback, q.Source)
	// 5.50 BRL per USD over 6.00 BRL per EUR.
	assert.Equal(t, "0.9166666667", q.Rate.String())

	var count int64
	require.NoError(t, conn.Model(&domain.Rate{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestQuote_UnknownPairPassesThrough(t *testing.T) {
	svc, _ := setup(t, nil)
	q, err := svc.Quote(context.Background(), day, "JPY", "EUR")
	require.NoError(t, err)
	assert.True(t, q.Approximate)
	assert.Equal(t, domain.SourceUnknown, q.Source)
	assert.True(t, q.Rate.Equal(decimal.NewFromInt(1)))

	_, err = svc.Quote(context.Background(), day, "EURO", "USD")
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)
}

func TestRecord_OverridesAndInvalidates(t *testing.T) {
	svc, _ := setup(t, nil)
	ctx := context.Background()

	before, err := svc.Quote(ctx, day, "GBP", "EUR")
	require.NoError(t, err)
	assert.True(t, before.Approximate)

	_, err = svc.Record(ctx, day, "GBP", "EUR", decimal.RequireFromString("1.17"))
	require.NoError(t, err)
	_, err = svc.Record(ctx, day, "GBP", "EUR", decimal.RequireFromString("1.18"))
	require.NoError(t, err)

	after, err := svc.Quote(ctx, day, "GBP", "EUR")
	require.NoError(t, err)
	assert.False(t, after.Approximate)
	assert.True(t, after.Rate.Equal(decimal.RequireFromString("1.18")))

	rates, err := svc.List(ctx, "GBP", "")
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, domain.SourceManual, rates[0].Source)

	_, err = svc.Record(ctx, day, "GBP", "EUR", decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidRate)
}

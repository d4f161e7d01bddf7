package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/royaltyledger/internal/sourcefile/domain"
	"github.com/smallbiznis/royaltyledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.SourceFile{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(Params{DB: conn, Log: zap.NewNop(), GenID: node}), conn
}

func request(sha string) domain.RegisterRequest {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.RegisterRequest{
		Slot: domain.Slot{
			Label:         "night-owl",
			Vendor:        "zebralution",
			PeriodKey:     "2024-Q1",
			StatementType: "royalty",
		},
		SHA256:      strings.Repeat(sha, 64),
		RawSHA256:   strings.Repeat("f", 64),
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 3, 0),
		SourcePath:  "/intake/zebralution/2024-Q1/statement.csv",
		Bytes:       128,
		ModifiedAt:  start,
	}
}

func TestRegister_SameContentIsIdempotent(t *testing.T) {
	svc, conn := setupService(t)
	ctx := context.Background()

	first, outcome, err := svc.Register(ctx, conn, request("a"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, outcome)
	assert.Nil(t, first.CorrectionOf)

	again, outcome, err := svc.Register(ctx, conn, request("a"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExisting, outcome)
	assert.Equal(t, first.ID, again.ID)

	var count int64
	require.NoError(t, conn.Model(&domain.SourceFile{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRegister_CorrectionChain(t *testing.T) {
	svc, conn := setupService(t)
	ctx := context.Background()

	original, _, err := svc.Register(ctx, conn, request("a"))
	require.NoError(t, err)

	corrected, outcome, err := svc.Register(ctx, conn, request("b"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCorrection, outcome)
	require.NotNil(t, corrected.CorrectionOf)
	assert.Equal(t, original.ID, *corrected.CorrectionOf)

	latest, outcome, err := svc.Register(ctx, conn, request("c"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCorrection, outcome)
	assert.Equal(t, corrected.ID, *latest.CorrectionOf)

	chain, err := svc.Chain(ctx, latest.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, []snowflake.ID{latest.ID, corrected.ID, original.ID},
		[]snowflake.ID{chain[0].ID, chain[1].ID, chain[2].ID})

	heads, err := svc.Heads(ctx, "night-owl")
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, latest.ID, heads[0].ID)

	// Re-registering superseded content does not fork the chain.
	reverted, outcome, err := svc.Register(ctx, conn, request("a"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExisting, outcome)
	assert.Equal(t, original.ID, reverted.ID)
	heads, err = svc.Heads(ctx, "night-owl")
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, latest.ID, heads[0].ID)
}

func TestRegister_OtherSlotsAreIndependent(t *testing.T) {
	svc, conn := setupService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, conn, request("a"))
	require.NoError(t, err)

	other := request("b")
	other.Slot.StatementType = "encoding_cost"
	_, outcome, err := svc.Register(ctx, conn, other)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, outcome)

	heads, err := svc.Heads(ctx, "")
	require.NoError(t, err)
	assert.Len(t, heads, 2)
}

func TestRegister_SameContentUnderAnotherLabel(t *testing.T) {
	svc, conn := setupService(t)
	ctx := context.Background()

	first, _, err := svc.Register(ctx, conn, request("a"))
	require.NoError(t, err)

	other := request("a")
	other.Slot.Label = "day-owl"
	second, outcome, err := svc.Register(ctx, conn, other)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, outcome)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "day-owl", second.Label)

	heads, err := svc.Heads(ctx, "day-owl")
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, second.ID, heads[0].ID)
}

func TestRegister_InsideTransactionRollsBack(t *testing.T) {
	svc, conn := setupService(t)
	ctx := context.Background()

	err := conn.Transaction(func(tx *gorm.DB) error {
		if _, _, err := svc.Register(ctx, tx, request("a")); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	heads, err := svc.Heads(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, heads)
}

func TestRegister_Validation(t *testing.T) {
	svc, conn := setupService(t)

	req := request("a")
	req.SHA256 = "short"
	_, _, err := svc.Register(context.Background(), conn, req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = svc.Get(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/royaltyledger/internal/clock"
	"github.com/smallbiznis/royaltyledger/internal/revenue/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WriterParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

type Writer struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewWriter(p WriterParams) domain.Writer {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Writer{
		log:   p.Log.Named("revenue.writer"),
		genID: p.GenID,
		clock: c,
	}
}

func (w *Writer) Write(ctx context.Context, tx *gorm.DB, sourceFileID snowflake.ID, ev domain.NormalizedEvent) (bool, error) {
	if sourceFileID == 0 {
		return false, domain.ErrMissingSourceFile
	}

	var (
		row   any
		index string
	)
	switch ev.Kind {
	case domain.KindRevenue:
		e := *ev.Revenue
		e.ID = w.genID.Generate()
		e.SourceFileID = sourceFileID
		e.IdentityHash = revenueIdentity(sourceFileID, &e)
		e.CreatedAt = w.clock.Now()
		row, index = &e, e.IdentityHash
	case domain.KindCost:
		e := *ev.Cost
		e.ID = w.genID.Generate()
		e.SourceFileID = sourceFileID
		e.IdentityHash = costIdentity(sourceFileID, &e)
		e.CreatedAt = w.clock.Now()
		row, index = &e, e.IdentityHash
	default:
		return false, fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "identity_hash"}}, DoNothing: true}).
		Create(row)
	if result.Error != nil {
		return false, fmt.Errorf("insert %s event %s: %w", ev.Kind, index[:12], result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (w *Writer) WriteAll(ctx context.Context, tx *gorm.DB, sourceFileID snowflake.ID, events []domain.NormalizedEvent) (domain.WriteResult, error) {
	var res domain.WriteResult
	for _, ev := range events {
		inserted, err := w.Write(ctx, tx, sourceFileID, ev)
		if err != nil {
			return res, err
		}
		res.Add(inserted)
	}
	return res, nil
}

// Capture stores every row of a file as read. Rows already captured for the
// file are left as they are.
func (w *Writer) Capture(ctx context.Context, tx *gorm.DB, sourceFileID snowflake.ID, in domain.CaptureInput) (int, error) {
	if sourceFileID == 0 {
		return 0, domain.ErrMissingSourceFile
	}
	if len(in.Rows) == 0 {
		return 0, nil
	}

	var columns datatypes.JSON
	if header := in.Rows[0].Row.Header; header != nil {
		encoded, err := json.Marshal(header.Columns())
		if err != nil {
			return 0, err
		}
		columns = datatypes.JSON(encoded)
	}

	now := w.clock.Now()
	rows := make([]domain.RawVendorRow, 0, len(in.Rows))
	for _, r := range in.Rows {
		rows = append(rows, domain.RawVendorRow{
			ID:            w.genID.Generate(),
			SourceFileID:  sourceFileID,
			RowOrdinal:    r.Row.Ordinal,
			Label:         in.Label,
			Vendor:        string(in.Vendor),
			StatementType: string(in.StatementType),
			PeriodKey:     in.PeriodKey,
			Class:         r.Class,
			Reason:        r.Reason,
			Columns:       columns,
			Raw:           datatypes.JSONMap(r.Row.Map()),
			CreatedAt:     now,
		})
	}

	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_file_id"}, {Name: "row_ordinal"}},
			DoNothing: true,
		}).
		CreateInBatches(rows, 200)
	if result.Error != nil {
		return 0, fmt.Errorf("capture raw rows: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/royaltyledger/internal/clock"
	"github.com/smallbiznis/royaltyledger/internal/sourcefile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("sourcefile.service"),
		genID: p.GenID,
		clock: c,
	}
}

func (s *Service) Register(ctx context.Context, tx *gorm.DB, req domain.RegisterRequest) (*domain.SourceFile, domain.RegisterOutcome, error) {
	if err := validate(req); err != nil {
		return nil, "", err
	}
	if tx == nil {
		tx = s.db
	}
	tx = tx.WithContext(ctx)

	existing, err := findByContent(tx, req.Slot, req.SHA256)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return existing, domain.OutcomeExisting, nil
	}

	head, err := findHead(tx, req.Slot)
	if err != nil {
		return nil, "", err
	}

	file := &domain.SourceFile{
		ID:            s.genID.Generate(),
		Label:         req.Slot.Label,
		Vendor:        req.Slot.Vendor,
		PeriodKey:     req.Slot.PeriodKey,
		StatementType: req.Slot.StatementType,
		SHA256:        req.SHA256,
		RawSHA256:     req.RawSHA256,
		PeriodStart:   req.PeriodStart.UTC(),
		PeriodEnd:     req.PeriodEnd.UTC(),
		SourcePath:    req.SourcePath,
		CanonicalPath: req.CanonicalPath,
		Bytes:         req.Bytes,
		ModifiedAt:    req.ModifiedAt.UTC(),
		Metadata:      datatypes.JSONMap(req.Metadata),
		CreatedAt:     s.clock.Now(),
	}
	outcome := domain.OutcomeCreated
	if head != nil {
		id := head.ID
		file.CorrectionOf = &id
		outcome = domain.OutcomeCorrection
	}

	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "label"}, {Name: "vendor"}, {Name: "sha256"}},
		DoNothing: true,
	}).Create(file)
	if result.Error != nil {
		return nil, "", fmt.Errorf("insert source file: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		existing, err := findByContent(tx, req.Slot, req.SHA256)
		if err != nil {
			return nil, "", err
		}
		if existing == nil {
			return nil, "", domain.ErrNotFound
		}
		return existing, domain.OutcomeExisting, nil
	}

	if outcome == domain.OutcomeCorrection {
		s.log.Info("registered correction",
			zap.String("source_file_id", file.ID.String()),
			zap.String("correction_of", file.CorrectionOf.String()),
			zap.String("vendor", file.Vendor),
			zap.String("period", file.PeriodKey),
		)
	}
	return file, outcome, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.SourceFile, error) {
	var file domain.SourceFile
	err := s.db.WithContext(ctx).First(&file, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (s *Service) Chain(ctx context.Context, id snowflake.ID) ([]domain.SourceFile, error) {
	var chain []domain.SourceFile
	seen := make(map[snowflake.ID]struct{})
	next := &id
	for next != nil {
		if _, loop := seen[*next]; loop {
			return nil, fmt.Errorf("correction chain cycle at %s", next.String())
		}
		seen[*next] = struct{}{}

		file, err := s.Get(ctx, *next)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *file)
		next = file.CorrectionOf
	}
	return chain, nil
}

func (s *Service) Heads(ctx context.Context, label string) ([]domain.SourceFile, error) {
	q := s.db.WithContext(ctx).
		Where("id NOT IN (SELECT correction_of FROM source_files WHERE correction_of IS NOT NULL)")
	if label = strings.TrimSpace(label); label != "" {
		q = q.Where("label = ?", label)
	}
	var files []domain.SourceFile
	if err := q.Order("vendor, period_key, statement_type, id").Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// findByContent matches within one label's files. Content seen anywhere in
// the label, a superseded version included, resolves to that file.
func findByContent(tx *gorm.DB, slot domain.Slot, sha string) (*domain.SourceFile, error) {
	var file domain.SourceFile
	err := tx.Where("label = ? AND vendor = ? AND sha256 = ?", slot.Label, slot.Vendor, sha).Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func findHead(tx *gorm.DB, slot domain.Slot) (*domain.SourceFile, error) {
	var file domain.SourceFile
	err := tx.
		Where("label = ? AND vendor = ? AND period_key = ? AND statement_type = ?",
			slot.Label, slot.Vendor, slot.PeriodKey, slot.StatementType).
		Where("id NOT IN (SELECT correction_of FROM source_files WHERE correction_of IS NOT NULL)").
		Order("created_at DESC, id DESC").
		Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func validate(req domain.RegisterRequest) error {
	switch {
	case strings.TrimSpace(req.Slot.Vendor) == "",
		strings.TrimSpace(req.Slot.PeriodKey) == "",
		strings.TrimSpace(req.Slot.StatementType) == "",
		len(req.SHA256) != 64:
		return domain.ErrInvalidRequest
	}
	if req.PeriodEnd.Before(req.PeriodStart) || req.PeriodStart.IsZero() {
		return domain.ErrInvalidRequest
	}
	return nil
}

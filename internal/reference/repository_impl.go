package reference

import (
	"context"

	"github.com/smallbiznis/royaltyledger/internal/reference/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) EnsurePlatform(ctx context.Context, db *gorm.DB, p domain.Platform) (*domain.Platform, error) {
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&p).Error
	if err != nil {
		return nil, err
	}
	var stored domain.Platform
	if err := db.WithContext(ctx).Where("name = ?", p.Name).Take(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *repository) EnsureStore(ctx context.Context, db *gorm.DB, s domain.Store) (*domain.Store, error) {
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "platform_id"}, {Name: "name"}}, DoNothing: true}).
		Create(&s).Error
	if err != nil {
		return nil, err
	}
	var stored domain.Store
	if err := db.WithContext(ctx).Where("platform_id = ? AND name = ?", s.PlatformID, s.Name).Take(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *repository) EnsureCurrency(ctx context.Context, db *gorm.DB, c domain.Currency) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(&c).Error
}

func (r *repository) ListPlatforms(ctx context.Context, db *gorm.DB) ([]domain.Platform, error) {
	var platforms []domain.Platform
	err := db.WithContext(ctx).Order("name").Find(&platforms).Error
	return platforms, err
}

func (r *repository) ListStores(ctx context.Context, db *gorm.DB) ([]domain.Store, error) {
	var stores []domain.Store
	err := db.WithContext(ctx).Order("platform_id, name").Find(&stores).Error
	return stores, err
}

func (r *repository) ListCurrencies(ctx context.Context, db *gorm.DB) ([]domain.Currency, error) {
	var currencies []domain.Currency
	err := db.WithContext(ctx).Where("is_active = ?", true).Order("code").Find(&currencies).Error
	return currencies, err
}

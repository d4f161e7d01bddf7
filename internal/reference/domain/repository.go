package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidName     = errors.New("invalid_reference_name")
	ErrUnknownCurrency = errors.New("unknown_currency")
)

type Repository interface {
	// EnsurePlatform and EnsureStore insert when absent and return the
	// stored row either way.
	EnsurePlatform(ctx context.Context, db *gorm.DB, p Platform) (*Platform, error)
	EnsureStore(ctx context.Context, db *gorm.DB, s Store) (*Store, error)
	EnsureCurrency(ctx context.Context, db *gorm.DB, c Currency) error
	ListPlatforms(ctx context.Context, db *gorm.DB) ([]Platform, error)
	ListStores(ctx context.Context, db *gorm.DB) ([]Store, error)
	ListCurrencies(ctx context.Context, db *gorm.DB) ([]Currency, error)
}

// Registry resolves reference names to ids, registering new ones on first
// sight.
type Registry interface {
	Init(ctx context.Context) error
	PlatformID(ctx context.Context, name string) (snowflake.ID, error)
	StoreID(ctx context.Context, platformID snowflake.ID, name string) (snowflake.ID, error)
	Currency(ctx context.Context, code string) (*Currency, error)
}

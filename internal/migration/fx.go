package migration

import (
	"context"

	"github.com/smallbiznis/royaltyledger/internal/config"
	"github.com/smallbiznis/royaltyledger/internal/reference"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, registry *reference.Registry, log *zap.Logger) error {
		if err := Migrate(conn, cfg.DBType); err != nil {
			return err
		}
		log.Named("migration").Info("schema ready", zap.String("type", cfg.DBType))
		return registry.Init(context.Background())
	}),
)

// Migrate brings the schema up to date for the given database type.
func Migrate(conn *gorm.DB, dbType string) error {
	if dbType != "postgres" {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

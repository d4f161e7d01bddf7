package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	fxratedomain "github.com/smallbiznis/royaltyledger/internal/fxrate/domain"
	payoutdomain "github.com/smallbiznis/royaltyledger/internal/payout/domain"
	pipelinedomain "github.com/smallbiznis/royaltyledger/internal/pipeline/domain"
	referencedomain "github.com/smallbiznis/royaltyledger/internal/reference/domain"
	revenuedomain "github.com/smallbiznis/royaltyledger/internal/revenue/domain"
	sourcefiledomain "github.com/smallbiznis/royaltyledger/internal/sourcefile/domain"
	warehousedomain "github.com/smallbiznis/royaltyledger/internal/warehouse/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every table owned by the ledger in dependency order.
func Models() []any {
	return []any{
		&referencedomain.Platform{},
		&referencedomain.Store{},
		&referencedomain.Currency{},
		&sourcefiledomain.SourceFile{},
		&revenuedomain.RawVendorRow{},
		&revenuedomain.RevenueEvent{},
		&revenuedomain.CostEvent{},
		&fxratedomain.Rate{},
		&warehousedomain.Fact{},
		&payoutdomain.Run{},
		&payoutdomain.Line{},
		&pipelinedomain.IngestRun{},
	}
}

// AutoMigrate creates the schema from the gorm models. It serves the
// sqlite and mysql backends, which the embedded SQL does not target.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

package migration

import (
	"io/fs"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"

	"github.com/smallbiznis/royaltyledger/pkg/db"
)

func TestAutoMigrateCreatesAllTables(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	require.NoError(t, Migrate(conn, "sqlite"))
	// second run is a no-op
	require.NoError(t, Migrate(conn, "sqlite"))

	for _, m := range Models() {
		assert.True(t, conn.Migrator().HasTable(m), "%T", m)
	}
	assert.True(t, conn.Migrator().HasIndex("revenue_events", "ux_revenue_events_identity"))
	assert.True(t, conn.Migrator().HasIndex("payout_runs", "ux_payout_runs_period"))
	assert.True(t, conn.Migrator().HasIndex("source_files", "ux_source_files_label_sha"))
}

func TestSourceFileContentIndexIsPerLabel(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000002_source_files_label_sha.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "DROP INDEX IF EXISTS ux_source_files_vendor_sha;")
	assert.Contains(t, string(up), "ON source_files (label, vendor, sha256);")

	down, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000002_source_files_label_sha.down.sql")
	require.NoError(t, err)
	assert.Contains(t, string(down), "DROP INDEX IF EXISTS ux_source_files_label_sha;")
}

func TestEmbeddedMigrationsCoverModels(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_init.up.sql")
	require.NoError(t, err)
	down, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_init.down.sql")
	require.NoError(t, err)

	cache := &sync.Map{}
	for _, m := range Models() {
		s, err := schema.Parse(m, cache, schema.NamingStrategy{})
		require.NoError(t, err)
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+s.Table+" (")
		assert.Contains(t, string(down), "DROP TABLE IF EXISTS "+s.Table+";")
		for _, f := range s.DBNames {
			assert.True(t, strings.Contains(string(up), "    "+f+" "), "%s.%s", s.Table, f)
		}
	}
}

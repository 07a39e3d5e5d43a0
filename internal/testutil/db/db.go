// Package db provides database utilities for testing
package db

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"gridprice/internal/config"
	"gridprice/internal/database"

	"github.com/stretchr/testify/require"
)

// PostgresEnv must be set to run tests against a live Postgres
const PostgresEnv = "GRIDPRICE_TEST_POSTGRES"

// CleanupTestDB drops the price tables and the migration bookkeeping table
func CleanupTestDB(db *sql.DB) error {
	_, err := db.Exec(`DROP TABLE IF EXISTS rtm_lmp, dam_spp, rtm_lmp_cdr, schema_migrations CASCADE`)
	if err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	return nil
}

// SetupTestDB connects to the Postgres described by cfg, resets it and runs
// migrations. The test is skipped unless PostgresEnv is set.
func SetupTestDB(t *testing.T, cfg *config.DatabaseConfig) *sql.DB {
	t.Helper()

	if os.Getenv(PostgresEnv) == "" {
		t.Skipf("set %s to run Postgres integration tests", PostgresEnv)
	}

	db, err := database.Connect(*cfg)
	require.NoError(t, err, "Failed to connect to test database")

	// Clean up any existing tables
	err = CleanupTestDB(db)
	require.NoError(t, err, "Failed to cleanup test database")

	// Run migrations using the same setup as the main app
	err = database.RunMigrations(*cfg)
	require.NoError(t, err, "Failed to run migrations")

	t.Cleanup(func() {
		if err := CleanupTestDB(db); err != nil {
			t.Errorf("Failed to cleanup test database: %v", err)
		}
		db.Close()
	})

	return db
}

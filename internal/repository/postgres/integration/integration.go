// Package integration provides utilities for postgres integration testing
package integration

import (
	"testing"

	"gridprice/internal/repository"
	"gridprice/internal/repository/postgres"
	"gridprice/internal/testutil"
	"gridprice/internal/testutil/db"

	"github.com/stretchr/testify/require"
)

// TestContext holds a migrated Postgres database and its price repository
type TestContext struct {
	*testutil.TestContext
	PriceRepo repository.PriceRepository
}

// NewTestContext creates a new test context for postgres integration tests.
// It skips the test unless a Postgres instance is configured.
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()
	cfg := testutil.LoadTestConfig(t)
	pg := db.SetupTestDB(t, &cfg.Database)

	return &TestContext{
		TestContext: &testutil.TestContext{T: t, DB: pg},
		PriceRepo:   postgres.NewPriceRepository(pg),
	}
}

// CleanupPrices removes all rows from the price tables
func (tc *TestContext) CleanupPrices() {
	tc.T.Helper()
	for _, table := range []string{"rtm_lmp", "dam_spp", "rtm_lmp_cdr"} {
		tc.ExecuteSQL("DELETE FROM " + table)
	}
	require.Zero(tc.T, tc.CountRows("rtm_lmp"))
}

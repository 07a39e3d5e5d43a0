// Package testutil provides utilities for testing
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"gridprice/internal/config"
	"gridprice/internal/models"
	"gridprice/internal/repository"
	"gridprice/internal/repository/sqlite"
	"gridprice/internal/testutil/db"

	"github.com/stretchr/testify/require"
)

// LoadTestConfig loads the test configuration
func LoadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return db.LoadTestConfig(t)
}

// TestContext holds common test dependencies
type TestContext struct {
	T         *testing.T
	DB        *sql.DB
	PriceRepo repository.PriceRepository
}

// NewTestContext creates a test context backed by a fresh SQLite file in a
// temporary directory
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()

	testDB, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "prices.db"))
	require.NoError(t, err, "Failed to open test database")

	tc := &TestContext{
		T:         t,
		DB:        testDB,
		PriceRepo: sqlite.NewPriceRepository(testDB),
	}

	t.Cleanup(func() {
		tc.DB.Close()
	})

	return tc
}

// RealTimePoint builds a real-time point; nil values stay absent
func RealTimePoint(ts time.Time, point string, lmp, energy, congestion, loss *float64) models.PricePoint {
	return models.PricePoint{
		Stream:              models.StreamRealTime,
		Timestamp:           ts.UTC(),
		SettlementPoint:     point,
		PointKind:           models.ClassifySettlementPoint(point, ""),
		LMP:                 lmp,
		EnergyComponent:     energy,
		CongestionComponent: congestion,
		LossComponent:       loss,
	}
}

// DayAheadPoint builds a day-ahead point
func DayAheadPoint(ts time.Time, point string, price *float64) models.PricePoint {
	return models.PricePoint{
		Stream:               models.StreamDayAhead,
		Timestamp:            ts.UTC(),
		SettlementPoint:      point,
		PointKind:            models.ClassifySettlementPoint(point, ""),
		SettlementPointPrice: price,
	}
}

// CountRows returns the number of rows in a table
func (tc *TestContext) CountRows(table string) int {
	tc.T.Helper()
	var n int
	err := tc.DB.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)
	require.NoError(tc.T, err, "Failed to count rows")
	return n
}

// ExecuteSQL runs a statement against the test database
func (tc *TestContext) ExecuteSQL(query string, args ...any) {
	tc.T.Helper()
	_, err := tc.DB.Exec(query, args...)
	require.NoError(tc.T, err, "Failed to execute SQL")
}

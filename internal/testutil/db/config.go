package db

import (
	"path/filepath"
	"runtime"
	"testing"

	"gridprice/internal/config"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

// ProjectRoot returns the repository root
func ProjectRoot(t *testing.T) string {
	t.Helper()

	// Get the absolute path to this file
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "Failed to get current file path")

	// Calculate project root (3 levels up from this file)
	projectRoot, err := filepath.Abs(filepath.Join(filepath.Dir(filename), "..", "..", ".."))
	require.NoError(t, err, "Failed to get absolute project root path")
	return projectRoot
}

// LoadTestConfig loads .env.test from the project root
func LoadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	projectRoot := ProjectRoot(t)

	err := godotenv.Load(filepath.Join(projectRoot, ".env.test"))
	require.NoError(t, err, "Failed to load .env.test file")

	// Create a new config instance
	cfg := &config.Config{}

	// Load from environment
	err = cfg.LoadFromEnv()
	require.NoError(t, err, "Failed to load config")

	// Only override paths to ensure they're absolute
	cfg.Database.MigrationsPath = filepath.Join(projectRoot, "migrations")
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "gridprice_test.db")

	return cfg
}

// Package sqlite is the embedded primary store. Timestamps are stored as
// fixed-width UTC text so that MAX() and ORDER BY compare chronologically.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gridprice/internal/models"
	"gridprice/internal/repository"

	_ "modernc.org/sqlite"
)

// TimeLayout is the stored timestamp format
const TimeLayout = "2006-01-02T15:04:05.000Z"

type priceRepository struct {
	repository.BaseRepository
}

// Open opens (creating if needed) the database file at path and applies the
// schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the stream tables if they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, kind := range models.StreamKinds() {
		table, err := repository.TableFor(kind)
		if err != nil {
			return err
		}

		ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  timestamp TEXT NOT NULL,
  settlement_point TEXT NOT NULL,
  settlement_point_type TEXT NOT NULL DEFAULT '',
  settlement_point_kind TEXT NOT NULL DEFAULT '',
%[2]s  PRIMARY KEY (timestamp, settlement_point)
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_point ON %[1]s(settlement_point);`, table.Name, valueColumns(table))

		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", table.Name, err)
		}
	}
	return nil
}

func valueColumns(t repository.Table) string {
	var s string
	for _, col := range t.Values {
		s += fmt.Sprintf("  %s REAL,\n", col)
	}
	return s
}

// NewPriceRepository creates a new SQLite price repository
func NewPriceRepository(db *sql.DB) repository.PriceRepository {
	return &priceRepository{
		BaseRepository: repository.NewBaseRepository(db),
	}
}

func placeholder(int) string {
	return "?"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", repository.ErrInvalidTimestamp, s)
	}
	return t, nil
}

func (r *priceRepository) UpsertPrices(ctx context.Context, stream models.StreamKind, points []models.PricePoint) (int64, error) {
	table, err := repository.TableFor(stream)
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}

	err = r.Transaction(ctx, func(ctx context.Context) error {
		for _, batch := range repository.Chunk(points, repository.MaxRowsPerStatement) {
			args := make([]any, 0, len(batch)*len(table.Columns()))
			for _, p := range batch {
				args = append(args, table.Args(p, formatTime(p.Timestamp))...)
			}
			if _, err := r.Querier(ctx).ExecContext(ctx, table.UpsertSQL(len(batch), placeholder), args...); err != nil {
				return fmt.Errorf("upsert %s: %w", table.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int64(len(points)), nil
}

func (r *priceRepository) LatestTimestamp(ctx context.Context, stream models.StreamKind) (time.Time, bool, error) {
	table, err := repository.TableFor(stream)
	if err != nil {
		return time.Time{}, false, err
	}

	var latest sql.NullString
	query := fmt.Sprintf(`SELECT MAX(timestamp) FROM %s`, table.Name)
	if err := r.Querier(ctx).QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("latest %s timestamp: %w", table.Name, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}

	ts, err := parseTime(latest.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func (r *priceRepository) Stats(ctx context.Context, stream models.StreamKind) (repository.PriceStats, error) {
	table, err := repository.TableFor(stream)
	if err != nil {
		return repository.PriceStats{}, err
	}

	stats := repository.PriceStats{Stream: stream.String(), Table: table.Name}
	var first, last sql.NullString
	query := fmt.Sprintf(`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM %s`, table.Name)
	if err := r.Querier(ctx).QueryRowContext(ctx, query).Scan(&stats.Count, &first, &last); err != nil {
		return repository.PriceStats{}, fmt.Errorf("stats %s: %w", table.Name, err)
	}
	if first.Valid {
		if stats.First, err = parseTime(first.String); err != nil {
			return repository.PriceStats{}, err
		}
	}
	if last.Valid {
		if stats.Last, err = parseTime(last.String); err != nil {
			return repository.PriceStats{}, err
		}
	}
	return stats, nil
}

func (r *priceRepository) Close() error {
	return r.DB().Close()
}

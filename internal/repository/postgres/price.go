package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gridprice/internal/models"
	"gridprice/internal/repository"
)

type priceRepository struct {
	repository.BaseRepository
}

// NewPriceRepository creates a new PostgreSQL price repository
func NewPriceRepository(db *sql.DB) repository.PriceRepository {
	return &priceRepository{
		BaseRepository: repository.NewBaseRepository(db),
	}
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
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
				args = append(args, table.Args(p, p.Timestamp.UTC())...)
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

	var latest sql.NullTime
	query := fmt.Sprintf(`SELECT MAX(timestamp) FROM %s`, table.Name)
	if err := r.Querier(ctx).QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("latest %s timestamp: %w", table.Name, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

func (r *priceRepository) Stats(ctx context.Context, stream models.StreamKind) (repository.PriceStats, error) {
	table, err := repository.TableFor(stream)
	if err != nil {
		return repository.PriceStats{}, err
	}

	stats := repository.PriceStats{Stream: stream.String(), Table: table.Name}
	var first, last sql.NullTime
	query := fmt.Sprintf(`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM %s`, table.Name)
	if err := r.Querier(ctx).QueryRowContext(ctx, query).Scan(&stats.Count, &first, &last); err != nil {
		return repository.PriceStats{}, fmt.Errorf("stats %s: %w", table.Name, err)
	}
	if first.Valid {
		stats.First = first.Time.UTC()
	}
	if last.Valid {
		stats.Last = last.Time.UTC()
	}
	return stats, nil
}

func (r *priceRepository) Close() error {
	return r.DB().Close()
}

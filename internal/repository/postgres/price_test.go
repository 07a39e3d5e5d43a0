package postgres_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"gridprice/internal/models"
	"gridprice/internal/repository"
	"gridprice/internal/repository/postgres"
	"gridprice/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (repository.PriceRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return postgres.NewPriceRepository(db), mock
}

func TestPriceRepository_UpsertPrices(t *testing.T) {
	ts := time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)
	points := []models.PricePoint{
		{
			Stream: models.StreamRealTime, Timestamp: ts, SettlementPoint: "HB_NORTH",
			PointKind: models.SettlementPointHub, LMP: testutil.Float(23.5), EnergyComponent: testutil.Float(20.1),
			CongestionComponent: testutil.Float(3.0), LossComponent: testutil.Float(0.4),
		},
		{
			Stream: models.StreamRealTime, Timestamp: ts.Add(5 * time.Minute), SettlementPoint: "NODE_X1",
			PointKind: models.SettlementPointNode, LMP: testutil.Float(19.0),
		},
	}

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		want    int64
		wantErr bool
	}{
		{
			name: "Success",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(
					"INSERT INTO rtm_lmp (timestamp, settlement_point, settlement_point_type, settlement_point_kind, lmp, energy_component, congestion_component, loss_component) VALUES ($1, $2, $3, $4, $5, $6, $7, $8), ($9, $10, $11, $12, $13, $14, $15, $16) ON CONFLICT (timestamp, settlement_point) DO UPDATE SET",
				)).WithArgs(
					ts, "HB_NORTH", "", "hub", 23.5, 20.1, 3.0, 0.4,
					ts.Add(5*time.Minute), "NODE_X1", "", "node", 19.0, nil, nil, nil,
				).WillReturnResult(sqlmock.NewResult(0, 2))
				mock.ExpectCommit()
			},
			want: 2,
		},
		{
			name: "Rollback On Error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO rtm_lmp").WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			tt.setup(mock)

			n, err := repo.UpsertPrices(context.Background(), models.StreamRealTime, points)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.want, n)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPriceRepository_UpsertPrices_SplitsStatements(t *testing.T) {
	repo, mock := newMockRepo(t)

	ts := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	points := make([]models.PricePoint, repository.MaxRowsPerStatement+1)
	for i := range points {
		points[i] = models.PricePoint{
			Stream: models.StreamDayAhead, Timestamp: ts.Add(time.Duration(i) * time.Hour),
			SettlementPoint: "LZ_WEST", SettlementPointPrice: testutil.Float(31.2),
		}
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dam_spp").WillReturnResult(sqlmock.NewResult(0, repository.MaxRowsPerStatement))
	mock.ExpectExec("INSERT INTO dam_spp").
		WithArgs(ts.Add(time.Duration(repository.MaxRowsPerStatement)*time.Hour), "LZ_WEST", "", "", 31.2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.UpsertPrices(context.Background(), models.StreamDayAhead, points)
	require.NoError(t, err)
	require.Equal(t, int64(len(points)), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceRepository_UpsertPrices_Empty(t *testing.T) {
	repo, mock := newMockRepo(t)

	n, err := repo.UpsertPrices(context.Background(), models.StreamRealTime, nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceRepository_UnknownStream(t *testing.T) {
	repo, _ := newMockRepo(t)

	_, err := repo.UpsertPrices(context.Background(), models.StreamKind(42), []models.PricePoint{{}})
	require.ErrorIs(t, err, repository.ErrUnknownStream)

	_, _, err = repo.LatestTimestamp(context.Background(), models.StreamKind(42))
	require.ErrorIs(t, err, repository.ErrUnknownStream)
}

func TestPriceRepository_LatestTimestamp(t *testing.T) {
	ts := time.Date(2026, 2, 6, 10, 5, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  driver.Value
		wantOK bool
	}{
		{name: "Populated", value: ts, wantOK: true},
		{name: "Empty Table", value: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(timestamp) FROM rtm_lmp")).
				WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(tt.value))

			got, ok, err := repo.LatestTimestamp(context.Background(), models.StreamRealTime)
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				require.True(t, ts.Equal(got))
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPriceRepository_Stats(t *testing.T) {
	repo, mock := newMockRepo(t)
	first := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2026, 2, 7, 23, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM dam_spp")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).AddRow(int64(168), first, last))

	stats, err := repo.Stats(context.Background(), models.StreamDayAhead)
	require.NoError(t, err)
	require.Equal(t, "dam_spp", stats.Table)
	require.Equal(t, "dam_spp", stats.Stream)
	require.Equal(t, int64(168), stats.Count)
	require.True(t, first.Equal(stats.First))
	require.True(t, last.Equal(stats.Last))
	require.NoError(t, mock.ExpectationsWereMet())
}

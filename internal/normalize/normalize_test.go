package normalize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gridprice/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

func TestNormalize_RealTime(t *testing.T) {
	n := New(chicago(t))

	t.Run("full row", func(t *testing.T) {
		p, err := n.Normalize(models.RawRow{
			"time": "2026-02-06T10:00:00Z", "point": "HB_NORTH",
			"lmp": 23.5, "energy": 20.1, "congestion": 3.0, "loss": 0.4,
		}, models.StreamRealTime)
		require.NoError(t, err)

		assert.Equal(t, models.StreamRealTime, p.Stream)
		assert.Equal(t, time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC), p.Timestamp)
		assert.Equal(t, "HB_NORTH", p.SettlementPoint)
		assert.Equal(t, models.SettlementPointHub, p.PointKind)
		require.NotNil(t, p.LMP)
		assert.Equal(t, 23.5, *p.LMP)
		assert.Equal(t, 20.1, *p.EnergyComponent)
		assert.Equal(t, 3.0, *p.CongestionComponent)
		assert.Equal(t, 0.4, *p.LossComponent)
		assert.Nil(t, p.SettlementPointPrice)
	})

	t.Run("missing components stay absent", func(t *testing.T) {
		p, err := n.Normalize(models.RawRow{
			"time": "2026-02-06T10:05:00Z", "point": "NODE_X1", "lmp": 19.0,
		}, models.StreamRealTime)
		require.NoError(t, err)

		assert.Equal(t, models.SettlementPointNode, p.PointKind)
		require.NotNil(t, p.LMP)
		assert.Equal(t, 19.0, *p.LMP)
		assert.Nil(t, p.EnergyComponent)
		assert.Nil(t, p.CongestionComponent)
		assert.Nil(t, p.LossComponent)
		assert.Equal(t, map[string]float64{"lmp": 19.0}, p.Fields())
	})

	t.Run("zero is a value", func(t *testing.T) {
		p, err := n.Normalize(models.RawRow{
			"SCEDTimestamp": "2026-02-06T10:00:00", "settlementPoint": "LZ_WEST", "LMP": json.Number("0"),
		}, models.StreamRealTime)
		require.NoError(t, err)
		require.NotNil(t, p.LMP)
		assert.Equal(t, 0.0, *p.LMP)
	})

	t.Run("api field names and local time", func(t *testing.T) {
		p, err := n.Normalize(models.RawRow{
			"SCEDTimestamp":       "2026-02-06T10:00:00",
			"repeatHourFlag":      false,
			"settlementPoint":     "LZ_HOUSTON",
			"settlementPointType": "LZ",
			"LMP":                 json.Number("25.75"),
			"energyComponent":     "20.00",
		}, models.StreamRealTime)
		require.NoError(t, err)

		assert.Equal(t, time.Date(2026, 2, 6, 16, 0, 0, 0, time.UTC), p.Timestamp)
		assert.Equal(t, "LZ", p.PointType)
		assert.Equal(t, models.SettlementPointLoadZone, p.PointKind)
		assert.Equal(t, 25.75, *p.LMP)
		assert.Equal(t, 20.0, *p.EnergyComponent)
	})

	t.Run("repeated hour", func(t *testing.T) {
		first, err := n.Normalize(models.RawRow{
			"SCEDTimestamp": "2026-11-01T01:30:00", "repeatHourFlag": false, "settlementPoint": "HB_WEST",
		}, models.StreamRealTime)
		require.NoError(t, err)
		second, err := n.Normalize(models.RawRow{
			"SCEDTimestamp": "2026-11-01T01:30:00", "repeatHourFlag": true, "settlementPoint": "HB_WEST",
		}, models.StreamRealTime)
		require.NoError(t, err)

		assert.Equal(t, time.Date(2026, 11, 1, 6, 30, 0, 0, time.UTC), first.Timestamp)
		assert.Equal(t, time.Date(2026, 11, 1, 7, 30, 0, 0, time.UTC), second.Timestamp)
	})

	t.Run("cdr stream", func(t *testing.T) {
		p, err := n.Normalize(models.RawRow{
			"SCEDTimestamp": "2026-02-08T09:25:16", "settlementPoint": "HB_PAN", "LMP": 12.0,
		}, models.StreamRealTimeCDR)
		require.NoError(t, err)
		assert.Equal(t, models.StreamRealTimeCDR, p.Stream)
		assert.Equal(t, time.Date(2026, 2, 8, 15, 25, 16, 0, time.UTC), p.Timestamp)
	})
}

func TestNormalize_DayAhead(t *testing.T) {
	loc := chicago(t)
	n := New(loc)

	tests := []struct {
		name string
		row  models.RawRow
		want time.Time
	}{
		{
			name: "hour ending 24 is next midnight",
			row:  models.RawRow{"deliveryDate": "2026-02-07", "hourEnding": 24, "point": "LZ_WEST", "price": 31.2},
			want: time.Date(2026, 2, 8, 0, 0, 0, 0, loc),
		},
		{
			name: "clock string",
			row:  models.RawRow{"deliveryDate": "2026-02-07", "hourEnding": "01:00", "settlementPoint": "LZ_WEST", "settlementPointPrice": 28.0},
			want: time.Date(2026, 2, 7, 1, 0, 0, 0, loc),
		},
		{
			name: "us date format",
			row:  models.RawRow{"DeliveryDate": "02/07/2026", "HourEnding": json.Number("13"), "SettlementPoint": "LZ_WEST", "SettlementPointPrice": "30"},
			want: time.Date(2026, 2, 7, 13, 0, 0, 0, loc),
		},
		{
			name: "fall back first pass",
			row:  models.RawRow{"deliveryDate": "2026-11-01", "hourEnding": "02:00", "DSTFlag": "N", "settlementPoint": "HB_NORTH", "settlementPointPrice": 1.0},
			want: time.Date(2026, 11, 1, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "fall back repeated hour",
			row:  models.RawRow{"deliveryDate": "2026-11-01", "hourEnding": "02:00", "DSTFlag": "Y", "settlementPoint": "HB_NORTH", "settlementPointPrice": 1.0},
			want: time.Date(2026, 11, 1, 8, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := n.Normalize(tt.row, models.StreamDayAhead)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(p.Timestamp), "want %s got %s", tt.want.UTC(), p.Timestamp)
			assert.Equal(t, models.StreamDayAhead, p.Stream)
			assert.NotNil(t, p.SettlementPointPrice)
			assert.Nil(t, p.LMP)
		})
	}

	t.Run("scenario price", func(t *testing.T) {
		p, err := n.Normalize(tests[0].row, models.StreamDayAhead)
		require.NoError(t, err)
		assert.Equal(t, "2026-02-08T00:00:00", p.Timestamp.In(loc).Format("2006-01-02T15:04:05"))
		assert.Equal(t, 31.2, *p.SettlementPointPrice)
		assert.Equal(t, models.SettlementPointLoadZone, p.PointKind)
	})
}

func TestNormalize_ValidationErrors(t *testing.T) {
	n := New(time.UTC)

	tests := []struct {
		name  string
		row   models.RawRow
		kind  models.StreamKind
		field string
	}{
		{name: "no timestamp", row: models.RawRow{"point": "HB_NORTH", "lmp": 1.0}, kind: models.StreamRealTime, field: "timestamp"},
		{name: "null timestamp", row: models.RawRow{"time": nil, "point": "HB_NORTH"}, kind: models.StreamRealTime, field: "timestamp"},
		{name: "bad timestamp", row: models.RawRow{"time": "yesterday", "point": "HB_NORTH"}, kind: models.StreamRealTime, field: "timestamp"},
		{name: "no point", row: models.RawRow{"time": "2026-02-06T10:00:00Z", "lmp": 1.0}, kind: models.StreamRealTime, field: "settlement_point"},
		{name: "blank point", row: models.RawRow{"time": "2026-02-06T10:00:00Z", "point": "  "}, kind: models.StreamRealTime, field: "settlement_point"},
		{name: "bad number", row: models.RawRow{"time": "2026-02-06T10:00:00Z", "point": "HB_NORTH", "lmp": "n/a"}, kind: models.StreamRealTime, field: "lmp"},
		{name: "no delivery date", row: models.RawRow{"hourEnding": 1, "point": "HB_NORTH"}, kind: models.StreamDayAhead, field: "delivery_date"},
		{name: "no hour ending", row: models.RawRow{"deliveryDate": "2026-02-07", "point": "HB_NORTH"}, kind: models.StreamDayAhead, field: "hour_ending"},
		{name: "hour ending out of range", row: models.RawRow{"deliveryDate": "2026-02-07", "hourEnding": 25, "point": "HB_NORTH"}, kind: models.StreamDayAhead, field: "hour_ending"},
		{name: "hour ending half hour", row: models.RawRow{"deliveryDate": "2026-02-07", "hourEnding": "01:30", "point": "HB_NORTH"}, kind: models.StreamDayAhead, field: "hour_ending"},
		{name: "unknown stream", row: models.RawRow{}, kind: models.StreamKind(99), field: "stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.row, tt.kind)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNormalize_EmptyStringNumberIsAbsent(t *testing.T) {
	p, err := New(nil).Normalize(models.RawRow{
		"time": "2026-02-06T10:00:00Z", "point": "HB_NORTH", "lmp": "", "loss": nil,
	}, models.StreamRealTime)
	require.NoError(t, err)
	assert.Nil(t, p.LMP)
	assert.Nil(t, p.LossComponent)
	assert.Equal(t, time.UTC, New(nil).Location())
}

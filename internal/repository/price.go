package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gridprice/internal/models"
)

// PriceRepository is the primary store: one table per stream keyed by
// (timestamp, settlement_point).
type PriceRepository interface {
	Repository
	// UpsertPrices writes points in one transaction, overwriting value
	// columns of existing keys. It returns the number of points written.
	UpsertPrices(ctx context.Context, stream models.StreamKind, points []models.PricePoint) (int64, error)
	// LatestTimestamp returns MAX(timestamp) for the stream; ok is false
	// when the table is empty.
	LatestTimestamp(ctx context.Context, stream models.StreamKind) (ts time.Time, ok bool, err error)
	// Stats returns the row count and time range of the stream's table
	Stats(ctx context.Context, stream models.StreamKind) (PriceStats, error)
	Close() error
}

// PriceStats summarises one stream table
type PriceStats struct {
	Stream string    `json:"stream"`
	Table  string    `json:"table"`
	Count  int64     `json:"count"`
	First  time.Time `json:"first,omitempty"`
	Last   time.Time `json:"last,omitempty"`
}

// MaxRowsPerStatement bounds a single multi-row INSERT
const MaxRowsPerStatement = 500

// Table describes the primary store table of one stream
type Table struct {
	Name string
	// Values are the nullable numeric columns after the key and tag columns
	Values []string
}

// KeyColumns and TagColumns precede the value columns in every table
var (
	KeyColumns = []string{"timestamp", "settlement_point"}
	TagColumns = []string{"settlement_point_type", "settlement_point_kind"}
)

var realTimeValues = []string{"lmp", "energy_component", "congestion_component", "loss_component"}

var tables = map[models.StreamKind]Table{
	models.StreamRealTime:    {Name: "rtm_lmp", Values: realTimeValues},
	models.StreamDayAhead:    {Name: "dam_spp", Values: []string{"settlement_point_price"}},
	models.StreamRealTimeCDR: {Name: "rtm_lmp_cdr", Values: realTimeValues},
}

// TableFor returns the table for a stream
func TableFor(stream models.StreamKind) (Table, error) {
	t, ok := tables[stream]
	if !ok {
		return Table{}, fmt.Errorf("%w: %d", ErrUnknownStream, int(stream))
	}
	return t, nil
}

// Columns returns every column in insert order
func (t Table) Columns() []string {
	cols := make([]string, 0, len(KeyColumns)+len(TagColumns)+len(t.Values))
	cols = append(cols, KeyColumns...)
	cols = append(cols, TagColumns...)
	return append(cols, t.Values...)
}

// Args returns the insert arguments of p in column order. ts is the already
// encoded timestamp; absent values are nil.
func (t Table) Args(p models.PricePoint, ts any) []any {
	args := []any{ts, p.SettlementPoint, p.PointType, string(p.PointKind)}
	for _, col := range t.Values {
		args = append(args, nullable(valueOf(p, col)))
	}
	return args
}

// UpsertSQL builds a multi-row upsert for rows rows. placeholder renders the
// n-th (1-based) bind parameter.
func (t Table) UpsertSQL(rows int, placeholder func(n int) string) string {
	cols := t.Columns()

	tuples := make([]string, rows)
	n := 1
	for i := range tuples {
		ph := make([]string, len(cols))
		for j := range ph {
			ph[j] = placeholder(n)
			n++
		}
		tuples[i] = "(" + strings.Join(ph, ", ") + ")"
	}

	updates := make([]string, 0, len(TagColumns)+len(t.Values))
	for _, col := range append(append([]string{}, TagColumns...), t.Values...) {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (timestamp, settlement_point) DO UPDATE SET %s",
		t.Name, strings.Join(cols, ", "), strings.Join(tuples, ", "), strings.Join(updates, ", "),
	)
}

func valueOf(p models.PricePoint, col string) *float64 {
	switch col {
	case "lmp":
		return p.LMP
	case "energy_component":
		return p.EnergyComponent
	case "congestion_component":
		return p.CongestionComponent
	case "loss_component":
		return p.LossComponent
	case "settlement_point_price":
		return p.SettlementPointPrice
	default:
		return nil
	}
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// Chunk splits points into slices of at most size elements
func Chunk[T any](points []T, size int) [][]T {
	if size <= 0 {
		size = len(points)
	}
	var chunks [][]T
	for start := 0; start < len(points); start += size {
		end := min(start+size, len(points))
		chunks = append(chunks, points[start:end])
	}
	return chunks
}

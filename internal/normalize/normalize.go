// Package normalize maps raw report rows onto the canonical PricePoint.
//
// Each stream kind has its own mapping. Field names are matched without
// regard to case, and a few aliases are accepted per field so that the JSON
// API, the CDR snapshot page and hand-built rows all normalize the same way.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gridprice/internal/models"
)

// Canonical field names and their accepted aliases, lower case.
var (
	timestampKeys   = []string{"scedtimestamp", "timestamp", "time"}
	pointKeys       = []string{"settlementpoint", "settlement_point", "point"}
	pointTypeKeys   = []string{"settlementpointtype", "settlement_point_type", "type"}
	lmpKeys         = []string{"lmp"}
	energyKeys      = []string{"energycomponent", "energy_component", "energy"}
	congestionKeys  = []string{"congestioncomponent", "congestion_component", "congestion"}
	lossKeys        = []string{"losscomponent", "loss_component", "loss"}
	deliveryKeys    = []string{"deliverydate", "delivery_date"}
	hourEndingKeys  = []string{"hourending", "hour_ending"}
	priceKeys       = []string{"settlementpointprice", "settlement_point_price", "price"}
	dstFlagKeys     = []string{"dstflag"}
	repeatHourKeys  = []string{"repeathourflag"}
	localLayouts    = []string{"2006-01-02T15:04:05", "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05", "2006-01-02T15:04"}
	deliveryLayouts = []string{"2006-01-02", "01/02/2006"}
)

// Normalizer converts raw rows, interpreting zone-less timestamps in loc
type Normalizer struct {
	loc *time.Location
}

// New creates a Normalizer. A nil loc means UTC.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Location returns the zone used for local timestamps
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize maps row onto a PricePoint for the given stream. Missing numeric
// values stay nil; a missing or unparsable timestamp or settlement point is a
// ValidationError.
func (n *Normalizer) Normalize(row models.RawRow, kind models.StreamKind) (models.PricePoint, error) {
	r := fold(row)

	switch kind {
	case models.StreamRealTime, models.StreamRealTimeCDR:
		return n.realTime(r, kind)
	case models.StreamDayAhead:
		return n.dayAhead(r)
	default:
		return models.PricePoint{}, invalid("stream", "unsupported stream kind %d", int(kind))
	}
}

func (n *Normalizer) realTime(r folded, kind models.StreamKind) (models.PricePoint, error) {
	raw, ok := r.get(timestampKeys)
	if !ok {
		return models.PricePoint{}, missing("timestamp")
	}
	repeated := false
	if v, ok := r.get(repeatHourKeys); ok {
		repeated = truthy(v)
	}
	ts, err := n.parseTimestamp(raw, repeated)
	if err != nil {
		return models.PricePoint{}, invalid("timestamp", "%v", err)
	}

	p, err := n.base(r, kind, ts)
	if err != nil {
		return models.PricePoint{}, err
	}

	if p.LMP, err = r.number("lmp", lmpKeys); err != nil {
		return models.PricePoint{}, err
	}
	if p.EnergyComponent, err = r.number("energy_component", energyKeys); err != nil {
		return models.PricePoint{}, err
	}
	if p.CongestionComponent, err = r.number("congestion_component", congestionKeys); err != nil {
		return models.PricePoint{}, err
	}
	if p.LossComponent, err = r.number("loss_component", lossKeys); err != nil {
		return models.PricePoint{}, err
	}
	return p, nil
}

func (n *Normalizer) dayAhead(r folded) (models.PricePoint, error) {
	rawDate, ok := r.get(deliveryKeys)
	if !ok {
		return models.PricePoint{}, missing("delivery_date")
	}
	rawHour, ok := r.get(hourEndingKeys)
	if !ok {
		return models.PricePoint{}, missing("hour_ending")
	}

	date, err := parseDeliveryDate(rawDate)
	if err != nil {
		return models.PricePoint{}, invalid("delivery_date", "%v", err)
	}
	he, err := parseHourEnding(rawHour)
	if err != nil {
		return models.PricePoint{}, invalid("hour_ending", "%v", err)
	}

	// An hour-ending interval closes one hour after its wall-clock start, so
	// HE24 lands on midnight of the next day. The DST flag marks the second
	// pass through the repeated fall-back hour.
	repeated := false
	if v, ok := r.get(dstFlagKeys); ok {
		repeated = truthy(v)
	}
	ts := wallClock(date.Year(), date.Month(), date.Day(), he-1, 0, 0, n.loc, repeated).Add(time.Hour)

	p, err := n.base(r, models.StreamDayAhead, ts)
	if err != nil {
		return models.PricePoint{}, err
	}
	if p.SettlementPointPrice, err = r.number("settlement_point_price", priceKeys); err != nil {
		return models.PricePoint{}, err
	}
	return p, nil
}

func (n *Normalizer) base(r folded, kind models.StreamKind, ts time.Time) (models.PricePoint, error) {
	raw, ok := r.get(pointKeys)
	if !ok {
		return models.PricePoint{}, missing("settlement_point")
	}
	name, ok := raw.(string)
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return models.PricePoint{}, invalid("settlement_point", "not a non-empty string")
	}

	var pointType string
	if v, ok := r.get(pointTypeKeys); ok {
		pointType, _ = v.(string)
		pointType = strings.TrimSpace(pointType)
	}

	return models.PricePoint{
		Stream:          kind,
		Timestamp:       ts.UTC(),
		SettlementPoint: name,
		PointType:       pointType,
		PointKind:       models.ClassifySettlementPoint(name, pointType),
	}, nil
}

// parseTimestamp honours an explicit offset and reads anything else as local
// wall-clock time in the normalizer's zone. repeated selects the later instant
// when the wall-clock time occurs twice.
func (n *Normalizer) parseTimestamp(v any, repeated bool) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected string, got %T", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty")
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return wallClock(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), n.loc, repeated).
				Add(time.Duration(t.Nanosecond())), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised format %q", s)
}

// wallClock resolves a local wall-clock time to an instant. When the time
// occurs twice, late picks the second occurrence, otherwise the first.
func wallClock(year int, month time.Month, day, hour, minute, sec int, loc *time.Location, late bool) time.Time {
	t := time.Date(year, month, day, hour, minute, sec, 0, loc)
	want := t.Format("2006-01-02T15:04:05")

	var matches []time.Time
	for _, c := range []time.Time{t.Add(-time.Hour), t, t.Add(time.Hour)} {
		if c.In(loc).Format("2006-01-02T15:04:05") == want {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return t
	}
	if late {
		return matches[len(matches)-1]
	}
	return matches[0]
}

func parseDeliveryDate(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected string, got %T", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range deliveryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised format %q", s)
}

// parseHourEnding accepts 24, "24" and "24:00"
func parseHourEnding(v any) (int, error) {
	var he int
	switch x := v.(type) {
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", x.String())
		}
		he = int(i)
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("not an integer: %v", x)
		}
		he = int(x)
	case int:
		he = x
	case int64:
		he = int(x)
	case string:
		s := strings.TrimSpace(x)
		if h, m, found := strings.Cut(s, ":"); found {
			if m != "00" {
				return 0, fmt.Errorf("not on the hour: %q", s)
			}
			s = h
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", x)
		}
		he = i
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}

	if he < 1 || he > 24 {
		return 0, fmt.Errorf("out of range: %d", he)
	}
	return he, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b || strings.EqualFold(strings.TrimSpace(x), "y")
	default:
		return false
	}
}

// folded is a raw row with lower-cased keys
type folded map[string]any

func fold(row models.RawRow) folded {
	r := make(folded, len(row))
	for k, v := range row {
		r[strings.ToLower(k)] = v
	}
	return r
}

// get returns the first present, non-null value among keys
func (r folded) get(keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// number reads an optional numeric field. Absent, null and empty-string
// values are nil, never zero.
func (r folded) number(field string, keys []string) (*float64, error) {
	v, ok := r.get(keys)
	if !ok {
		return nil, nil
	}

	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil, invalid(field, "not a number: %q", x.String())
		}
		f = parsed
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, invalid(field, "not a number: %q", x)
		}
		f = parsed
	default:
		return nil, invalid(field, "unexpected type %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalid(field, "not finite")
	}
	return &f, nil
}

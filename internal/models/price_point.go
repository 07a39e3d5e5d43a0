package models

import (
	"time"
)

// StreamKind identifies one logical price stream
type StreamKind int

const (
	// StreamRealTime is the real-time market LMP by settlement point
	StreamRealTime StreamKind = iota + 1
	// StreamDayAhead is the day-ahead market settlement point price
	StreamDayAhead
	// StreamRealTimeCDR is the current-day real-time LMP snapshot page
	StreamRealTimeCDR
)

var streamNames = map[StreamKind]string{
	StreamRealTime:    "rtm_lmp",
	StreamDayAhead:    "dam_spp",
	StreamRealTimeCDR: "rtm_lmp_cdr",
}

// String returns the stream's canonical name
func (k StreamKind) String() string {
	if name, ok := streamNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseStreamKind resolves a stream name to its kind
func ParseStreamKind(name string) (StreamKind, bool) {
	for kind, n := range streamNames {
		if n == name {
			return kind, true
		}
	}
	return 0, false
}

// StreamKinds returns every known stream kind in declaration order
func StreamKinds() []StreamKind {
	return []StreamKind{StreamRealTime, StreamDayAhead, StreamRealTimeCDR}
}

// PricePoint is one observation at a settlement point.
// (Timestamp, SettlementPoint) is unique within a stream.
type PricePoint struct {
	Stream          StreamKind          `json:"stream"`
	Timestamp       time.Time           `json:"timestamp" validate:"required"`
	SettlementPoint string              `json:"settlement_point" validate:"required"`
	PointType       string              `json:"settlement_point_type,omitempty"`
	PointKind       SettlementPointKind `json:"settlement_point_kind"`

	// Real-time values. Nil means the upstream omitted the value.
	LMP                 *float64 `json:"lmp,omitempty"`
	EnergyComponent     *float64 `json:"energy_component,omitempty"`
	CongestionComponent *float64 `json:"congestion_component,omitempty"`
	LossComponent       *float64 `json:"loss_component,omitempty"`

	// Day-ahead value
	SettlementPointPrice *float64 `json:"settlement_point_price,omitempty"`
}

// Key returns the natural key of the point within its stream
func (p PricePoint) Key() PointKey {
	return PointKey{Timestamp: p.Timestamp.UTC(), SettlementPoint: p.SettlementPoint}
}

// Fields returns the non-absent numeric values keyed by column name
func (p PricePoint) Fields() map[string]float64 {
	fields := make(map[string]float64, 5)
	set := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}
	set("lmp", p.LMP)
	set("energy_component", p.EnergyComponent)
	set("congestion_component", p.CongestionComponent)
	set("loss_component", p.LossComponent)
	set("settlement_point_price", p.SettlementPointPrice)
	return fields
}

// PointKey is the natural primary key of a PricePoint within a stream
type PointKey struct {
	Timestamp       time.Time
	SettlementPoint string
}

package models

import "strings"

// SettlementPointKind classifies a priced grid location
type SettlementPointKind string

const (
	SettlementPointHub      SettlementPointKind = "hub"
	SettlementPointLoadZone SettlementPointKind = "load_zone"
	SettlementPointNode     SettlementPointKind = "node"
)

// SettlementPoint is reference data carried on each raw row
type SettlementPoint struct {
	Name string              `json:"name"`
	Type string              `json:"type,omitempty"`
	Kind SettlementPointKind `json:"kind"`
}

// ClassifySettlementPoint derives the kind from the upstream type tag, falling
// back to the HB_/LZ_ naming convention when the tag is missing.
func ClassifySettlementPoint(name, pointType string) SettlementPointKind {
	t := strings.ToUpper(strings.TrimSpace(pointType))
	switch {
	case strings.HasPrefix(t, "HU"), strings.HasPrefix(t, "HB"), t == "AH", t == "SH":
		return SettlementPointHub
	case strings.HasPrefix(t, "LZ"):
		return SettlementPointLoadZone
	case t != "":
		return SettlementPointNode
	}

	n := strings.ToUpper(name)
	switch {
	case strings.HasPrefix(n, "HB_"):
		return SettlementPointHub
	case strings.HasPrefix(n, "LZ_"):
		return SettlementPointLoadZone
	default:
		return SettlementPointNode
	}
}

// NewSettlementPoint builds a SettlementPoint from its raw tags
func NewSettlementPoint(name, pointType string) SettlementPoint {
	return SettlementPoint{
		Name: name,
		Type: pointType,
		Kind: ClassifySettlementPoint(name, pointType),
	}
}

// Package ercot binds the ERCOT public reports to the real-time and
// day-ahead streams.
package ercot

import (
	"context"
	"fmt"
	"iter"
	"time"

	"gridprice/internal/api"
	"gridprice/internal/models"
	"gridprice/internal/provider"
)

const (
	// DefaultLookback bounds the first run of a stream with an empty table
	DefaultLookback = 7 * 24 * time.Hour

	RealTimeMeasurement = "lmp_by_settlement_point"
	DayAheadMeasurement = "spp_day_ahead_hourly"
)

var (
	// RealTimeEndpoint is the LMP by resource node, load zone and hub report
	RealTimeEndpoint = api.Endpoint{
		Path:        "/np6-788-cd/lmp_node_zone_hub",
		SinceParam:  "SCEDTimestampFrom",
		SinceLayout: "2006-01-02T15:04:05",
		SortField:   "SCEDTimestamp",
	}
	// DayAheadEndpoint is the DAM settlement point prices report
	DayAheadEndpoint = api.Endpoint{
		Path:        "/np4-190-cd/dam_stlmnt_pnt_prices",
		SinceParam:  "deliveryDateFrom",
		SinceLayout: "2006-01-02",
		SortField:   "deliveryDate",
	}
)

// DefaultAllowList returns the ERCOT hubs and load zones
func DefaultAllowList() []string {
	return []string{
		"HB_BUSAVG", "HB_HOUSTON", "HB_HUBAVG", "HB_NORTH", "HB_PAN", "HB_SOUTH", "HB_WEST",
		"LZ_AEN", "LZ_CPS", "LZ_HOUSTON", "LZ_LCRA", "LZ_NORTH", "LZ_RAYBN", "LZ_SOUTH", "LZ_WEST",
	}
}

// DefaultConfig returns the default configuration for the real-time or
// day-ahead stream
func DefaultConfig(kind models.StreamKind) provider.Config {
	cfg := provider.Config{
		Name:      kind.String(),
		Kind:      kind,
		Enabled:   true,
		Lookback:  DefaultLookback,
		PageSize:  api.DefaultPageSize,
		AllowList: DefaultAllowList(),
	}
	switch kind {
	case models.StreamDayAhead:
		cfg.Measurement = DayAheadMeasurement
	default:
		cfg.Measurement = RealTimeMeasurement
	}
	return cfg
}

// EndpointFor returns the report behind a stream
func EndpointFor(kind models.StreamKind) (api.Endpoint, error) {
	switch kind {
	case models.StreamRealTime:
		return RealTimeEndpoint, nil
	case models.StreamDayAhead:
		return DayAheadEndpoint, nil
	default:
		return api.Endpoint{}, fmt.Errorf("no ercot report for stream %s", kind)
	}
}

// Source pages through one ERCOT report
type Source struct {
	client   *api.Client
	endpoint api.Endpoint
	pageSize int
}

// NewSource creates a paginated source for the stream
func NewSource(client *api.Client, kind models.StreamKind, pageSize int) (*Source, error) {
	ep, err := EndpointFor(kind)
	if err != nil {
		return nil, err
	}
	return &Source{client: client, endpoint: ep, pageSize: pageSize}, nil
}

// Pages yields the report's pages from since up to now
func (s *Source) Pages(ctx context.Context, since time.Time, maxPages int) iter.Seq2[*models.FetchPage, error] {
	return s.client.FetchPages(ctx, s.endpoint, since, api.PageOptions{
		PageSize: s.pageSize,
		MaxPages: maxPages,
	})
}

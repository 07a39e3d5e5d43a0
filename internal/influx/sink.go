// Package influx writes price points to the derived time-series store
package influx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gridprice/internal/models"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Tag keys carried on every point
const (
	TagSettlementPoint     = "settlement_point"
	TagSettlementPointType = "settlement_point_type"
	TagSettlementPointKind = "settlement_point_kind"
)

// Config holds the connection parameters of the derived store
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// Timeout bounds one write request
	Timeout time.Duration
}

// Sink writes chunks of points with one blocking write call per chunk.
// A chunk either lands whole or the call returns an error.
type Sink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewSink creates a sink for cfg's bucket
func NewSink(cfg Config) *Sink {
	opts := influxdb2.DefaultOptions().SetPrecision(time.Second)
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(max(cfg.Timeout/time.Second, 1)))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &Sink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

// WriteChunk writes points to measurement. Points without any numeric value
// must be filtered out by the caller.
func (s *Sink) WriteChunk(ctx context.Context, measurement string, points []models.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	batch := make([]*write.Point, 0, len(points))
	for _, p := range points {
		pt, err := NewPoint(measurement, p)
		if err != nil {
			return err
		}
		batch = append(batch, pt)
	}

	if err := s.writer.WritePoint(ctx, batch...); err != nil {
		return fmt.Errorf("write %d points to %s: %w", len(points), measurement, err)
	}
	return nil
}

// Ping reports whether the server is reachable
func (s *Sink) Ping(ctx context.Context) (bool, error) {
	return s.client.Ping(ctx)
}

// Close releases the underlying client
func (s *Sink) Close() {
	s.client.Close()
}

// ErrNoFields is returned for a point with no numeric value
var ErrNoFields = errors.New("point has no numeric fields")

// NewPoint converts p into a tagged time-series point
func NewPoint(measurement string, p models.PricePoint) (*write.Point, error) {
	values := p.Fields()
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s at %s", ErrNoFields, p.SettlementPoint, p.Timestamp.Format(time.RFC3339))
	}

	tags := map[string]string{
		TagSettlementPoint:     p.SettlementPoint,
		TagSettlementPointKind: string(p.PointKind),
	}
	if p.PointType != "" {
		tags[TagSettlementPointType] = p.PointType
	}

	fields := make(map[string]any, len(values))
	for k, v := range values {
		fields[k] = v
	}
	return influxdb2.NewPoint(measurement, tags, fields, p.Timestamp.UTC()), nil
}

// IsRetryable reports whether a failed write may succeed when repeated.
// Rejected payloads and credential failures are not retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrNoFields) {
		return false
	}
	var herr *influxhttp.Error
	if errors.As(err, &herr) {
		return herr.StatusCode == http.StatusTooManyRequests || herr.StatusCode >= 500 || herr.StatusCode == 0
	}
	return true
}

// Package metrics exports cycle results to a Prometheus Pushgateway. A run is
// a short-lived job, so metrics are pushed once at the end instead of scraped.
package metrics

import (
	"context"
	"fmt"
	"sync"

	"gridprice/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const namespace = "gridprice"

// CycleMetrics holds the gauges of the last observed cycle
type CycleMetrics struct {
	RecordsFetched     prometheus.Gauge
	RecordsRejected    prometheus.Gauge
	RecordsWritten     *prometheus.GaugeVec
	FailedDerivedChunk prometheus.Gauge
	Duration           prometheus.Gauge
	Outcome            *prometheus.GaugeVec
	LastSuccess        prometheus.Gauge
}

func newCycleMetrics() *CycleMetrics {
	return &CycleMetrics{
		RecordsFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_records_fetched",
			Help:      "Raw records fetched by the last cycle",
		}),
		RecordsRejected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_records_rejected",
			Help:      "Raw records dropped by validation in the last cycle",
		}),
		RecordsWritten: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_records_written",
			Help:      "Points written by the last cycle per sink",
		}, []string{"sink"}),
		FailedDerivedChunk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_failed_derived_chunks",
			Help:      "Derived store chunks that exhausted their retries in the last cycle",
		}),
		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of the last cycle",
		}),
		Outcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_outcome",
			Help:      "1 for the outcome of the last cycle, 0 for the others",
		}, []string{"outcome"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that wrote the primary store",
		}),
	}
}

// Pusher records finished cycles and pushes them grouped by stream
type Pusher struct {
	url    string
	job    string
	logger zerolog.Logger

	mu       sync.Mutex
	stream   string
	registry *prometheus.Registry
	metrics  *CycleMetrics
}

// NewPusher creates a pusher. An empty url disables pushing.
func NewPusher(url, job string) *Pusher {
	return &Pusher{
		url:    url,
		job:    job,
		logger: log.With().Str("component", "metrics").Logger(),
	}
}

// ObserveCycle replaces the pending metrics with the summary's
func (p *Pusher) ObserveCycle(s *models.CycleSummary) {
	m := newCycleMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(m.RecordsFetched, m.RecordsRejected, m.RecordsWritten, m.FailedDerivedChunk, m.Duration, m.Outcome)

	m.RecordsFetched.Set(float64(s.RecordsFetched))
	m.RecordsRejected.Set(float64(s.RecordsRejected))
	m.RecordsWritten.WithLabelValues("primary").Set(float64(s.Write.PrimaryWritten))
	m.RecordsWritten.WithLabelValues("derived").Set(float64(s.Write.DerivedWritten))
	m.FailedDerivedChunk.Set(float64(len(s.Write.FailedDerivedChunks())))
	m.Duration.Set(s.Elapsed.Seconds())
	for _, o := range []models.Outcome{models.OutcomeSuccess, models.OutcomePartial, models.OutcomeFailure} {
		v := 0.0
		if o == s.Outcome {
			v = 1
		}
		m.Outcome.WithLabelValues(string(o)).Set(v)
	}

	// Left out on failure so the gateway keeps the previous value.
	if s.Outcome != models.OutcomeFailure {
		registry.MustRegister(m.LastSuccess)
		m.LastSuccess.Set(float64(s.StartedAt.Add(s.Elapsed).Unix()))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stream = s.Stream
	p.registry = registry
	p.metrics = m
}

// Gatherer returns the pending metrics, or nil before any cycle
func (p *Pusher) Gatherer() prometheus.Gatherer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.registry == nil {
		return nil
	}
	return p.registry
}

// Push sends the pending metrics. Metrics of the same group not present in
// this push are kept by the gateway.
func (p *Pusher) Push(ctx context.Context) error {
	if p.url == "" {
		return nil
	}

	p.mu.Lock()
	registry, stream := p.registry, p.stream
	p.mu.Unlock()
	if registry == nil {
		return nil
	}

	err := push.New(p.url, p.job).
		Gatherer(registry).
		Grouping("stream", stream).
		AddContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics for %s: %w", stream, err)
	}
	p.logger.Debug().Str("stream", stream).Msg("metrics pushed")
	return nil
}

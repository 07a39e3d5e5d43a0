// Package ingest runs one stream cycle: resolve the cursor, fetch pages,
// normalize records and write them to the primary and derived stores.
package ingest

import (
	"context"
	"errors"
	"iter"
	"time"

	"gridprice/internal/models"
	"gridprice/internal/normalize"
	"gridprice/internal/provider"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Source yields a stream's raw pages starting at since
type Source interface {
	Pages(ctx context.Context, since time.Time, maxPages int) iter.Seq2[*models.FetchPage, error]
}

// Normalizer maps a raw row to a PricePoint
type Normalizer interface {
	Normalize(row models.RawRow, kind models.StreamKind) (models.PricePoint, error)
}

// Recorder observes finished cycles
type Recorder interface {
	ObserveCycle(summary *models.CycleSummary)
}

// Driver runs the cycle of one stream. It retries nothing itself; every
// component owns its retry policy.
type Driver struct {
	provider.BaseProvider
	source     Source
	cursor     *CursorResolver
	normalizer Normalizer
	writer     *Writer
	recorder   Recorder
	logger     zerolog.Logger
	now        func() time.Time
}

// DriverOption configures a Driver
type DriverOption func(*Driver)

// WithDriverLogger sets the driver's logger
func WithDriverLogger(logger zerolog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithRecorder reports every finished cycle to r
func WithRecorder(r Recorder) DriverOption {
	return func(d *Driver) {
		d.recorder = r
	}
}

// NewDriver creates the driver of the stream described by cfg
func NewDriver(cfg provider.Config, source Source, cursor *CursorResolver, normalizer Normalizer, writer *Writer, opts ...DriverOption) *Driver {
	d := &Driver{
		BaseProvider: provider.NewBaseProvider(cfg),
		source:       source,
		cursor:       cursor,
		normalizer:   normalizer,
		writer:       writer,
		logger:       log.With().Str("component", "driver").Str("stream", cfg.Name).Logger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the stream name
func (d *Driver) Name() string {
	return d.GetConfig().Name
}

// Run executes one cycle from the resolved cursor
func (d *Driver) Run(ctx context.Context) (*models.CycleSummary, error) {
	return d.RunWithOptions(ctx, provider.RunOptions{})
}

// RunWithOptions executes one cycle. opts.Since replaces the resolved cursor.
// The summary is returned in every case; the error is non-nil only when the
// cycle failed.
func (d *Driver) RunWithOptions(ctx context.Context, opts provider.RunOptions) (*models.CycleSummary, error) {
	cfg := d.GetConfig()
	c := &cycle{
		driver: d,
		summary: &models.CycleSummary{
			RunID:     uuid.New(),
			Stream:    cfg.Name,
			State:     models.StateIdle,
			StartedAt: d.now().UTC(),
		},
	}
	c.logger = d.logger.With().Str("run_id", c.summary.RunID.String()).Logger()

	err := c.run(ctx, cfg, opts)
	return c.finish(err)
}

type cycle struct {
	driver  *Driver
	summary *models.CycleSummary
	logger  zerolog.Logger
}

func (c *cycle) transition(state models.CycleState) {
	if c.summary.State == state {
		return
	}
	c.logger.Debug().Str("from", string(c.summary.State)).Str("to", string(state)).Msg("cycle state")
	c.summary.State = state
}

func (c *cycle) run(ctx context.Context, cfg provider.Config, opts provider.RunOptions) error {
	d := c.driver

	c.transition(models.StateResolvingCursor)
	since, err := c.resolve(ctx, cfg, opts)
	if err != nil {
		return err
	}
	c.summary.Since = since

	maxPages := cfg.MaxPages
	if opts.MaxPages > 0 {
		maxPages = opts.MaxPages
	}
	target := Target{Stream: cfg.Kind, Measurement: cfg.Measurement, Allow: d.SupportsPoint}

	c.transition(models.StateFetching)
	for page, err := range d.source.Pages(ctx, since, maxPages) {
		c.transition(models.StateFetching)
		if err != nil {
			return err
		}
		c.summary.PagesFetched++
		c.summary.RecordsFetched += len(page.Rows)
		c.logger.Info().
			Int("page", page.Index).
			Int("total_pages", page.TotalPages).
			Int("records", len(page.Rows)).
			Msg("page fetched")

		c.transition(models.StateNormalizing)
		points := c.normalize(page, cfg.Kind)

		c.transition(models.StateWriting)
		written, err := d.writer.Write(ctx, target, points)
		c.summary.Write.Add(written)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *cycle) resolve(ctx context.Context, cfg provider.Config, opts provider.RunOptions) (time.Time, error) {
	if opts.Since != nil {
		c.logger.Info().Time("since", *opts.Since).Msg("cursor overridden")
		return opts.Since.UTC(), nil
	}
	since, err := c.driver.cursor.Resolve(ctx, cfg.Kind, cfg.Lookback)
	if err != nil {
		return time.Time{}, err
	}
	c.logger.Debug().Time("since", since).Msg("cursor resolved")
	return since, nil
}

func (c *cycle) normalize(page *models.FetchPage, kind models.StreamKind) []models.PricePoint {
	points := make([]models.PricePoint, 0, len(page.Rows))
	for i, row := range page.Rows {
		p, err := c.driver.normalizer.Normalize(row, kind)
		if err != nil {
			c.summary.RecordsRejected++
			ev := c.logger.Warn().Err(err).Int("page", page.Index).Int("row", i)
			var verr *normalize.ValidationError
			if errors.As(err, &verr) {
				ev = ev.Str("field", verr.Field)
			}
			ev.Msg("record rejected")
			continue
		}
		points = append(points, p)
	}
	return points
}

func (c *cycle) finish(err error) (*models.CycleSummary, error) {
	s := c.summary
	s.Elapsed = c.driver.now().Sub(s.StartedAt)

	switch {
	case err != nil:
		s.FailedAt = s.State
		s.State = models.StateFailed
		s.Outcome = models.OutcomeFailure
		s.Error = err.Error()
	case len(s.Write.FailedDerivedChunks()) > 0:
		s.State = models.StateDone
		s.Outcome = models.OutcomePartial
	default:
		s.State = models.StateDone
		s.Outcome = models.OutcomeSuccess
	}

	var ev *zerolog.Event
	switch s.Outcome {
	case models.OutcomeFailure:
		ev = c.logger.Error().Err(err).Str("failed_at", string(s.FailedAt))
	case models.OutcomePartial:
		ev = c.logger.Warn().Int("failed_derived_chunks", len(s.Write.FailedDerivedChunks()))
	default:
		ev = c.logger.Info()
	}
	ev.Str("outcome", string(s.Outcome)).
		Time("since", s.Since).
		Int("pages", s.PagesFetched).
		Int("fetched", s.RecordsFetched).
		Int("rejected", s.RecordsRejected).
		Int("primary_written", s.Write.PrimaryWritten).
		Int("derived_written", s.Write.DerivedWritten).
		Int("derived_skipped", s.Write.DerivedSkipped).
		Dur("elapsed", s.Elapsed).
		Msg("cycle finished")

	if c.driver.recorder != nil {
		c.driver.recorder.ObserveCycle(s)
	}
	return s, err
}

var _ provider.Provider = (*Driver)(nil)

package ingest

import (
	"context"
	"errors"
	"time"

	"gridprice/internal/influx"
	"gridprice/internal/models"
	"gridprice/internal/repository"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// PrimaryStore is the system of record
type PrimaryStore interface {
	UpsertPrices(ctx context.Context, stream models.StreamKind, points []models.PricePoint) (int64, error)
}

// DerivedSink writes one chunk atomically to the time-series store
type DerivedSink interface {
	WriteChunk(ctx context.Context, measurement string, points []models.PricePoint) error
}

// WriterConfig tunes both sinks. The derived budget is independent of the
// primary one and of the fetch client's.
type WriterConfig struct {
	PrimaryChunkSize int
	Primary          RetryPolicy

	DerivedChunkSize int
	WritesPerMinute  int
	Derived          RetryPolicy
	// BreakerThreshold is the number of consecutive failed derived writes
	// after which remaining chunks fail fast
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// Target identifies where one stream's points go
type Target struct {
	Stream      models.StreamKind
	Measurement string
	// Allow selects the points sent to the derived store
	Allow func(settlementPoint string) bool
}

// Writer writes batches to the primary store and then to the derived store
type Writer struct {
	primary PrimaryStore
	derived DerivedSink
	cfg     WriterConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithWriterLogger sets the writer's logger
func WithWriterLogger(logger zerolog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

// NewWriter creates a dual-sink writer. A nil derived sink disables the
// derived store.
func NewWriter(primary PrimaryStore, derived DerivedSink, cfg WriterConfig, opts ...WriterOption) *Writer {
	if cfg.PrimaryChunkSize <= 0 {
		cfg.PrimaryChunkSize = 5000
	}
	if cfg.DerivedChunkSize <= 0 {
		cfg.DerivedChunkSize = 5000
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}

	w := &Writer{
		primary: primary,
		derived: derived,
		cfg:     cfg,
		logger:  log.With().Str("component", "writer").Logger(),
		sleep:   sleepContext,
	}
	if cfg.WritesPerMinute > 0 {
		w.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.WritesPerMinute)), 1)
	}

	threshold := uint32(cfg.BreakerThreshold)
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "derived_store",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("derived store breaker changed state")
		},
	})

	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write upserts every point into the primary store, then sends the allowed
// points to the derived store. A primary failure is returned as a WriteError
// and nothing goes to the derived store. Derived failures are reported only
// through the summary's chunk results.
func (w *Writer) Write(ctx context.Context, target Target, points []models.PricePoint) (models.WriteSummary, error) {
	var summary models.WriteSummary
	points = dedupe(points)

	for i, chunk := range repository.Chunk(points, w.cfg.PrimaryChunkSize) {
		attempts, err := w.retry(ctx, SinkPrimary, i, w.cfg.Primary, retryablePrimary, func(ctx context.Context) error {
			_, err := w.primary.UpsertPrices(ctx, target.Stream, chunk)
			return err
		})
		result := models.ChunkResult{Index: i, Points: len(chunk), Attempts: attempts}
		if err != nil {
			result.Error = err.Error()
			summary.PrimaryChunks = append(summary.PrimaryChunks, result)
			return summary, &WriteError{Sink: SinkPrimary, Chunk: i, Attempts: attempts, Err: err}
		}
		summary.PrimaryChunks = append(summary.PrimaryChunks, result)
		summary.PrimaryWritten += len(chunk)
	}

	if w.derived == nil {
		return summary, nil
	}

	selected := make([]models.PricePoint, 0, len(points))
	for _, p := range points {
		if target.Allow != nil && !target.Allow(p.SettlementPoint) {
			continue
		}
		if len(p.Fields()) == 0 {
			summary.DerivedSkipped++
			continue
		}
		selected = append(selected, p)
	}

	for i, chunk := range repository.Chunk(selected, w.cfg.DerivedChunkSize) {
		attempts, err := w.retry(ctx, SinkDerived, i, w.cfg.Derived, retryableDerived, func(ctx context.Context) error {
			if w.limiter != nil {
				if err := w.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			_, err := w.breaker.Execute(func() (any, error) {
				return nil, w.derived.WriteChunk(ctx, target.Measurement, chunk)
			})
			return err
		})
		result := models.ChunkResult{Index: i, Points: len(chunk), Attempts: attempts}
		if err != nil {
			werr := &WriteError{Sink: SinkDerived, Chunk: i, Attempts: attempts, Err: err}
			result.Error = werr.Error()
			w.logger.Error().Err(werr).Str("stream", target.Stream.String()).Int("points", len(chunk)).Msg("derived chunk dropped")
		} else {
			summary.DerivedWritten += len(chunk)
		}
		summary.DerivedChunks = append(summary.DerivedChunks, result)
	}

	return summary, nil
}

// retry runs fn until it succeeds, the policy is exhausted or the error is
// not retryable. It returns the number of attempts made.
func (w *Writer) retry(ctx context.Context, sink Sink, chunk int, policy RetryPolicy, retryable func(error) bool, fn func(context.Context) error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if attempt >= policy.attempts() || !retryable(err) || ctx.Err() != nil {
			return attempt, err
		}

		delay := policy.Backoff(attempt - 1)
		w.logger.Warn().
			Err(err).
			Str("sink", string(sink)).
			Int("chunk", chunk).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("chunk write failed, retrying")
		if serr := w.sleep(ctx, delay); serr != nil {
			return attempt, err
		}
	}
}

func retryablePrimary(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, repository.ErrUnknownStream)
}

func retryableDerived(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return influx.IsRetryable(err)
}

// dedupe keeps the last point for each key so that one statement never
// touches the same row twice.
func dedupe(points []models.PricePoint) []models.PricePoint {
	index := make(map[models.PointKey]int, len(points))
	out := make([]models.PricePoint, 0, len(points))
	for _, p := range points {
		if i, ok := index[p.Key()]; ok {
			out[i] = p
			continue
		}
		index[p.Key()] = len(out)
		out = append(out, p)
	}
	return out
}

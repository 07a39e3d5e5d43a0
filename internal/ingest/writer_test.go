package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"gridprice/internal/models"
	"gridprice/internal/testutil"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)

func allowHubs(p string) bool {
	return p == "HB_NORTH" || p == "HB_WEST" || p == "LZ_WEST"
}

func hubPoints(n int) []models.PricePoint {
	points := make([]models.PricePoint, n)
	for i := range points {
		points[i] = testutil.RealTimePoint(base.Add(time.Duration(i)*5*time.Minute), "HB_NORTH", testutil.Float(float64(i)), nil, nil, nil)
	}
	return points
}

func newTestWriter(primary PrimaryStore, sink DerivedSink, cfg WriterConfig) (*Writer, *sleepRecorder) {
	w := NewWriter(primary, sink, cfg)
	rec := &sleepRecorder{}
	w.sleep = rec.sleep
	return w, rec
}

func rtTarget() Target {
	return Target{Stream: models.StreamRealTime, Measurement: "lmp_by_settlement_point", Allow: allowHubs}
}

func TestWriter_FiltersDerivedPoints(t *testing.T) {
	primary := newFakePrimary()
	sink := newFakeSink()
	w, _ := newTestWriter(primary, sink, WriterConfig{})

	points := []models.PricePoint{
		testutil.RealTimePoint(base, "HB_NORTH", testutil.Float(23.5), nil, nil, nil),
		testutil.RealTimePoint(base, "NODE_X1", testutil.Float(19), nil, nil, nil),
		testutil.RealTimePoint(base, "HB_WEST", nil, nil, nil, nil),
	}

	summary, err := w.Write(context.Background(), rtTarget(), points)
	require.NoError(t, err)

	assert.Len(t, primary.rows, 3)
	assert.Equal(t, 3, summary.PrimaryWritten)
	assert.Equal(t, 1, summary.DerivedWritten)
	// HB_WEST is allowed but carries no value
	assert.Equal(t, 1, summary.DerivedSkipped)
	assert.Equal(t, []string{"HB_NORTH"}, sink.points("lmp_by_settlement_point"))
}

func TestWriter_ChunksAndRetriesDerived(t *testing.T) {
	primary := newFakePrimary()
	sink := newFakeSink()
	sink.fail = func(call int) error {
		if call == 2 {
			return errUnavailable
		}
		return nil
	}
	w, sleeps := newTestWriter(primary, sink, WriterConfig{
		DerivedChunkSize: 2,
		Derived:          RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: time.Minute},
	})

	summary, err := w.Write(context.Background(), rtTarget(), hubPoints(5))
	require.NoError(t, err)

	require.Len(t, summary.DerivedChunks, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{summary.DerivedChunks[0].Points, summary.DerivedChunks[1].Points, summary.DerivedChunks[2].Points})
	assert.Equal(t, 1, summary.DerivedChunks[0].Attempts)
	assert.Equal(t, 2, summary.DerivedChunks[1].Attempts)
	assert.Empty(t, summary.FailedDerivedChunks())
	assert.Equal(t, 5, summary.DerivedWritten)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeps.delays)
}

func TestWriter_DerivedExhaustionIsReportedPerChunk(t *testing.T) {
	primary := newFakePrimary()
	sink := newFakeSink()
	sink.fail = func(call int) error {
		if call <= 2 {
			return errUnavailable
		}
		return nil
	}
	w, sleeps := newTestWriter(primary, sink, WriterConfig{
		DerivedChunkSize: 2,
		Derived:          RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute},
		BreakerThreshold: 5,
	})

	summary, err := w.Write(context.Background(), rtTarget(), hubPoints(4))
	require.NoError(t, err)

	assert.Equal(t, 4, summary.PrimaryWritten)
	failed := summary.FailedDerivedChunks()
	require.Len(t, failed, 1)
	assert.Equal(t, 0, failed[0].Index)
	assert.Equal(t, 2, failed[0].Attempts)
	assert.Contains(t, failed[0].Error, "derived write of chunk 0")
	assert.True(t, summary.DerivedChunks[1].Succeeded())
	assert.Equal(t, 2, summary.DerivedWritten)
	assert.Len(t, sleeps.delays, 1)
	// the failed chunk left nothing behind
	assert.Len(t, sink.points("lmp_by_settlement_point"), 2)
}

func TestWriter_BreakerFailsRemainingChunksFast(t *testing.T) {
	sink := newFakeSink()
	sink.fail = func(int) error { return errUnavailable }
	w, _ := newTestWriter(newFakePrimary(), sink, WriterConfig{
		DerivedChunkSize: 1,
		Derived:          RetryPolicy{MaxAttempts: 1},
		BreakerThreshold: 2,
	})

	summary, err := w.Write(context.Background(), rtTarget(), hubPoints(4))
	require.NoError(t, err)

	assert.Equal(t, 2, sink.calls)
	require.Len(t, summary.FailedDerivedChunks(), 4)
	assert.Contains(t, summary.DerivedChunks[3].Error, gobreaker.ErrOpenState.Error())
}

func TestWriter_PrimaryRetryThenSuccess(t *testing.T) {
	primary := newFakePrimary()
	primary.failFor = 1
	primary.err = errors.New("database is locked")
	w, sleeps := newTestWriter(primary, nil, WriterConfig{
		Primary: RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
	})

	summary, err := w.Write(context.Background(), rtTarget(), hubPoints(3))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.PrimaryWritten)
	assert.Equal(t, 2, summary.PrimaryChunks[0].Attempts)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, sleeps.delays)
	assert.Empty(t, summary.DerivedChunks)
}

func TestWriter_PrimaryExhaustionSkipsDerived(t *testing.T) {
	primary := newFakePrimary()
	primary.failFor = 100
	primary.err = errors.New("connection refused")
	sink := newFakeSink()
	w, sleeps := newTestWriter(primary, sink, WriterConfig{
		PrimaryChunkSize: 2,
		Primary:          RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
	})

	summary, err := w.Write(context.Background(), rtTarget(), hubPoints(3))

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, SinkPrimary, werr.Sink)
	assert.Equal(t, 0, werr.Chunk)
	assert.Equal(t, 3, werr.Attempts)
	assert.ErrorIs(t, err, primary.err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
	assert.Zero(t, summary.PrimaryWritten)
	assert.Zero(t, sink.calls)
}

func TestWriter_DedupesKeys(t *testing.T) {
	primary := newFakePrimary()
	w, _ := newTestWriter(primary, nil, WriterConfig{})

	points := []models.PricePoint{
		testutil.RealTimePoint(base, "HB_NORTH", testutil.Float(1), nil, nil, nil),
		testutil.RealTimePoint(base, "HB_WEST", testutil.Float(2), nil, nil, nil),
		testutil.RealTimePoint(base, "HB_NORTH", testutil.Float(3), nil, nil, nil),
	}

	summary, err := w.Write(context.Background(), rtTarget(), points)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.PrimaryWritten)
	assert.Equal(t, 3.0, *primary.rows[points[0].Key()].LMP)
}

func TestWriter_RateLimitHonoursContext(t *testing.T) {
	sink := newFakeSink()
	w, _ := newTestWriter(newFakePrimary(), sink, WriterConfig{
		DerivedChunkSize: 1,
		WritesPerMinute:  1,
		Derived:          RetryPolicy{MaxAttempts: 1},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	summary, err := w.Write(ctx, rtTarget(), hubPoints(2))
	require.NoError(t, err)
	// the first write takes the burst token, the second cannot wait a minute
	assert.Equal(t, 1, sink.calls)
	assert.Len(t, summary.FailedDerivedChunks(), 1)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second}
	assert.Equal(t, 5*time.Second, p.Backoff(0))
	assert.Equal(t, 10*time.Second, p.Backoff(1))
	assert.Equal(t, 40*time.Second, p.Backoff(3))
	assert.Equal(t, 60*time.Second, p.Backoff(4))
	assert.Equal(t, 60*time.Second, p.Backoff(20))
}

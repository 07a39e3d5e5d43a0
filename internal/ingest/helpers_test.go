package ingest

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"gridprice/internal/models"
)

var errUnavailable = errors.New("derived store unavailable")

type fakeSource struct {
	pages    []*models.FetchPage
	failAt   int
	err      error
	since    time.Time
	maxPages int
}

func (s *fakeSource) Pages(_ context.Context, since time.Time, maxPages int) iter.Seq2[*models.FetchPage, error] {
	s.since = since
	s.maxPages = maxPages
	return func(yield func(*models.FetchPage, error) bool) {
		for i, p := range s.pages {
			if s.err != nil && i == s.failAt {
				yield(nil, s.err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if s.err != nil && s.failAt >= len(s.pages) {
			yield(nil, s.err)
		}
	}
}

type fakePrimary struct {
	mu      sync.Mutex
	rows    map[models.PointKey]models.PricePoint
	calls   int
	failFor int
	err     error
	latest  time.Time
	hasData bool
}

func newFakePrimary() *fakePrimary {
	return &fakePrimary{rows: make(map[models.PointKey]models.PricePoint)}
}

func (f *fakePrimary) UpsertPrices(_ context.Context, _ models.StreamKind, points []models.PricePoint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFor {
		return 0, f.err
	}
	for _, p := range points {
		f.rows[p.Key()] = p
	}
	return int64(len(points)), nil
}

func (f *fakePrimary) LatestTimestamp(context.Context, models.StreamKind) (time.Time, bool, error) {
	return f.latest, f.hasData, f.err
}

type fakeSink struct {
	mu      sync.Mutex
	calls   int
	fail    func(call int) error
	written map[string][]models.PricePoint
}

func newFakeSink() *fakeSink {
	return &fakeSink{written: make(map[string][]models.PricePoint)}
}

func (f *fakeSink) WriteChunk(_ context.Context, measurement string, points []models.PricePoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		if err := f.fail(f.calls); err != nil {
			return err
		}
	}
	f.written[measurement] = append(f.written[measurement], points...)
	return nil
}

func (f *fakeSink) points(measurement string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, p := range f.written[measurement] {
		names = append(names, p.SettlementPoint)
	}
	return names
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

type fakeRecorder struct {
	summaries []*models.CycleSummary
}

func (r *fakeRecorder) ObserveCycle(s *models.CycleSummary) {
	r.summaries = append(r.summaries, s)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

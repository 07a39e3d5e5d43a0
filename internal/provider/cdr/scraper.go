// Package cdr scrapes the ERCOT current-day real-time LMP page. The page is a
// single snapshot, so a cycle sees at most one page.
package cdr

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gridprice/internal/api"
	"gridprice/internal/models"
	"gridprice/internal/provider"
	"gridprice/internal/provider/ercot"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultURL is the real-time LMP current day report
	DefaultURL = "https://www.ercot.com/content/cdr/html/current_np6788.html"
	// DefaultLookback bounds the first run of an empty table
	DefaultLookback = 24 * time.Hour
	// Measurement is the derived store series of the snapshot stream
	Measurement = "rtm_lmp_realtime"

	snapshotLayout = "Jan 02, 2006 15:04:05"
	maxAttempts    = 3
)

var lastUpdated = regexp.MustCompile(`Last Updated:\s*(.+)`)

// DefaultConfig returns the default configuration of the snapshot stream
func DefaultConfig() provider.Config {
	return provider.Config{
		Name:        models.StreamRealTimeCDR.String(),
		Kind:        models.StreamRealTimeCDR,
		Enabled:     true,
		Lookback:    DefaultLookback,
		Measurement: Measurement,
		AllowList:   ercot.DefaultAllowList(),
	}
}

// Snapshot is one parsed report page
type Snapshot struct {
	Timestamp time.Time
	Rows      []models.RawRow
}

// Scraper fetches and parses the snapshot page
type Scraper struct {
	url        string
	httpClient *http.Client
	location   *time.Location
	logger     zerolog.Logger
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Scraper) {
		s.httpClient = hc
	}
}

// WithLocation sets the zone of the page's timestamp.
func WithLocation(loc *time.Location) Option {
	return func(s *Scraper) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scraper) {
		s.logger = logger
	}
}

// WithBaseDelay sets the first retry delay.
func WithBaseDelay(d time.Duration) Option {
	return func(s *Scraper) {
		s.baseDelay = d
	}
}

// NewScraper creates a scraper for the page at url
func NewScraper(url string, opts ...Option) *Scraper {
	if url == "" {
		url = DefaultURL
	}
	loc, err := time.LoadLocation(api.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}

	s := &Scraper{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		location:   loc,
		logger:     log.Logger,
		baseDelay:  time.Second,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "cdr_scraper").Logger()
	return s
}

// Fetch downloads and parses the page. 429 and 5xx responses are retried.
func (s *Scraper) Fetch(ctx context.Context) (*Snapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		snap, err := s.fetchOnce(ctx)
		if err == nil {
			return snap, nil
		}
		lastErr = err

		var apiErr *api.APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return nil, &api.FetchError{Kind: api.KindBadResponse, StatusCode: apiErr.StatusCode, Page: 1, Attempts: attempt, Err: err}
		}
		if errors.Is(err, errParse) {
			return nil, &api.FetchError{Kind: api.KindBadResponse, Page: 1, Attempts: attempt, Err: err}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == maxAttempts {
			break
		}

		delay := s.baseDelay * time.Duration(1<<(attempt-1))
		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying snapshot fetch")
		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	kind := api.KindNetworkError
	status := 0
	var apiErr *api.APIError
	if errors.As(lastErr, &apiErr) {
		status = apiErr.StatusCode
		if status == http.StatusTooManyRequests {
			kind = api.KindRateLimited
		}
	}
	return nil, &api.FetchError{Kind: kind, StatusCode: status, Page: 1, Attempts: maxAttempts, Err: lastErr}
}

var errParse = errors.New("unparsable snapshot page")

func (s *Scraper) fetchOnce(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &api.APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errParse, err)
	}
	return s.parse(doc)
}

// parse reads the "Last Updated" stamp and the settlement point rows
func (s *Scraper) parse(doc *goquery.Document) (*Snapshot, error) {
	m := lastUpdated.FindStringSubmatch(doc.Find("div.schedTime").First().Text())
	if m == nil {
		return nil, fmt.Errorf("%w: no last updated time", errParse)
	}
	ts, err := time.ParseInLocation(snapshotLayout, strings.TrimSpace(m[1]), s.location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errParse, err)
	}

	local := ts.Format("2006-01-02T15:04:05")
	var rows []models.RawRow
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td.tdLeft")
		if cells.Length() < 2 {
			return
		}
		point := strings.TrimSpace(cells.Eq(0).Text())
		lmp, err := strconv.ParseFloat(strings.TrimSpace(cells.Eq(1).Text()), 64)
		if point == "" || point == "Settlement Point" || err != nil {
			return
		}
		rows = append(rows, models.RawRow{
			"SCEDTimestamp":   local,
			"settlementPoint": point,
			"LMP":             lmp,
		})
	})

	return &Snapshot{Timestamp: ts, Rows: rows}, nil
}

// Pages yields the snapshot as a single page when it is newer than since
func (s *Scraper) Pages(ctx context.Context, since time.Time, _ int) iter.Seq2[*models.FetchPage, error] {
	return func(yield func(*models.FetchPage, error) bool) {
		snap, err := s.Fetch(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if !since.IsZero() && !snap.Timestamp.After(since) {
			s.logger.Info().
				Time("snapshot", snap.Timestamp).
				Time("since", since).
				Msg("snapshot already stored")
			return
		}

		yield(&models.FetchPage{
			Index:        1,
			TotalPages:   1,
			TotalRecords: len(snap.Rows),
			Rows:         snap.Rows,
		}, nil)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

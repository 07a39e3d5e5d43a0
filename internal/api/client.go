package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the ERCOT public reports API
	DefaultBaseURL = "https://api.ercot.com/api/public-reports"
	// DefaultPageSize is the number of records requested per page
	DefaultPageSize = 50000
	// DefaultMaxAttempts bounds attempts per page for 429 and 5xx responses
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the first backoff delay
	DefaultBaseDelay = time.Second
	// DefaultMaxDelay caps the backoff delay
	DefaultMaxDelay = 30 * time.Second
	// DefaultTimezone is the zone the reports API uses for local timestamps
	DefaultTimezone = "America/Chicago"
)

// Client fetches paginated reports from the ERCOT public API.
type Client struct {
	baseURL         string
	subscriptionKey string
	tokens          TokenSource
	httpClient      *http.Client
	logger          zerolog.Logger
	location        *time.Location
	limiter         *rate.Limiter

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new reports client.
func NewClient(baseURL, subscriptionKey string, tokens TokenSource, opts ...ClientOption) *Client {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}

	c := &Client{
		baseURL:         baseURL,
		subscriptionKey: subscriptionKey,
		tokens:          tokens,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger:      log.Logger,
		location:    loc,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		sleep:       sleepContext,
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "api_client").Logger()

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetryPolicy sets the attempt budget and backoff bounds.
func WithRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLocation sets the zone used to format time-range filters.
func WithLocation(loc *time.Location) ClientOption {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithRequestsPerMinute paces outgoing report requests. Zero disables pacing.
func WithRequestsPerMinute(n int) ClientOption {
	return func(c *Client) {
		if n <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
}

// backoff returns the delay after the given zero-based failed attempt
func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if c.maxDelay > 0 && d >= c.maxDelay {
			return c.maxDelay
		}
	}
	if c.maxDelay > 0 && d > c.maxDelay {
		return c.maxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

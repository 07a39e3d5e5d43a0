package api

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"time"

	"gridprice/internal/models"
)

// Endpoint describes one paginated report resource
type Endpoint struct {
	// Path is appended to the base URL, e.g. /np6-788-cd/lmp_node_zone_hub
	Path string
	// SinceParam is the query parameter carrying the inclusive lower bound
	SinceParam string
	// SinceLayout formats the lower bound in the client's zone
	SinceLayout string
	// SortField orders results ascending when set
	SortField string
}

// PageOptions bounds a paginated fetch
type PageOptions struct {
	PageSize int
	// MaxPages stops after that many pages; zero means all pages
	MaxPages int
}

// FetchAll returns every page of ep from since up to now.
func (c *Client) FetchAll(ctx context.Context, ep Endpoint, since time.Time, pageSize int) iter.Seq2[*models.FetchPage, error] {
	return c.FetchPages(ctx, ep, since, PageOptions{PageSize: pageSize})
}

// FetchPages requests page 1 to learn the page count, then pages 2..N in
// order. The sequence is lazy; iterating it again starts over from page 1.
// It stops after the first error.
func (c *Client) FetchPages(ctx context.Context, ep Endpoint, since time.Time, opts PageOptions) iter.Seq2[*models.FetchPage, error] {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	return func(yield func(*models.FetchPage, error) bool) {
		var fields []field
		totalPages := 1

		for page := 1; page <= totalPages; page++ {
			if opts.MaxPages > 0 && page > opts.MaxPages {
				c.logger.Info().
					Str("path", ep.Path).
					Int("max_pages", opts.MaxPages).
					Int("total_pages", totalPages).
					Msg("page limit reached")
				return
			}

			env, err := c.getPage(ctx, ep.Path, c.pageQuery(ep, since, opts.PageSize, page), page)
			if err != nil {
				yield(nil, err)
				return
			}

			if page == 1 {
				totalPages = env.Meta.TotalPages
				fields = env.Fields
			}

			rows, err := env.rows(fields)
			if err != nil {
				yield(nil, &FetchError{Kind: KindBadResponse, Page: page, Attempts: 1, Err: err})
				return
			}

			c.logger.Debug().
				Str("path", ep.Path).
				Int("page", page).
				Int("total_pages", totalPages).
				Int("rows", len(rows)).
				Msg("fetched page")

			fp := &models.FetchPage{
				Index:        page,
				TotalPages:   totalPages,
				TotalRecords: env.Meta.TotalRecords,
				Rows:         rows,
			}
			if !yield(fp, nil) {
				return
			}
		}
	}
}

func (c *Client) pageQuery(ep Endpoint, since time.Time, pageSize, page int) url.Values {
	q := url.Values{}
	if ep.SinceParam != "" && !since.IsZero() {
		layout := ep.SinceLayout
		if layout == "" {
			layout = "2006-01-02T15:04:05"
		}
		q.Set(ep.SinceParam, since.In(c.location).Format(layout))
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(pageSize))
	if ep.SortField != "" {
		q.Set("sort", ep.SortField)
		q.Set("dir", "asc")
	}
	return q
}

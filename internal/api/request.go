package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"gridprice/internal/models"
)

type meta struct {
	TotalRecords int `json:"totalRecords"`
	PageSize     int `json:"pageSize"`
	TotalPages   int `json:"totalPages"`
	CurrentPage  int `json:"currentPage"`
}

type field struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	DataType string `json:"dataType"`
}

// envelope is the report response shape
type envelope struct {
	Meta   *meta             `json:"_meta"`
	Fields []field           `json:"fields"`
	Data   []json.RawMessage `json:"data"`
}

// doRequest performs one authenticated GET.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values, token string) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if c.subscriptionKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// getPage fetches one page. 429, 5xx and transport failures share the
// attempt budget with exponential backoff. A 401 forces one token refresh and
// one retry outside that budget. Undecodable bodies fail at once.
func (c *Client) getPage(ctx context.Context, path string, query url.Values, page int) (*envelope, error) {
	attempts := 0
	refreshed := false

	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("wait for request slot: %w", err)
			}
		}

		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		body, err := c.doRequest(ctx, path, query, tok.Value)
		if err == nil {
			env, derr := decodeEnvelope(body)
			if derr != nil {
				return nil, &FetchError{Kind: KindBadResponse, StatusCode: http.StatusOK, Page: page, Attempts: attempts + 1, Err: derr}
			}
			return env, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		kind := KindNetworkError
		status := 0
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
			switch {
			case status == http.StatusUnauthorized:
				if refreshed {
					return nil, &FetchError{Kind: KindUnauthorized, StatusCode: status, Page: page, Attempts: attempts + 1, Err: err}
				}
				refreshed = true
				c.logger.Warn().Int("page", page).Msg("token rejected, refreshing")
				if _, err := c.tokens.Refresh(ctx); err != nil {
					return nil, err
				}
				continue
			case status == http.StatusTooManyRequests:
				kind = KindRateLimited
			case apiErr.IsRetryable():
				kind = KindNetworkError
			default:
				return nil, &FetchError{Kind: KindBadResponse, StatusCode: status, Page: page, Attempts: attempts + 1, Err: err}
			}
		}

		attempts++
		if attempts >= c.maxAttempts {
			return nil, &FetchError{Kind: kind, StatusCode: status, Page: page, Attempts: attempts, Err: err}
		}

		delay := c.backoff(attempts - 1)
		c.logger.Warn().
			Int("page", page).
			Int("status", status).
			Int("attempt", attempts).
			Int("max_attempts", c.maxAttempts).
			Dur("backoff", delay).
			Msg("retrying request")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func decodeEnvelope(body []byte) (*envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Meta == nil {
		return nil, errors.New("response has no _meta block")
	}
	return &env, nil
}

// rows converts the data array into keyed rows. Positional rows are zipped
// with fields; fallback supplies field names when a page omits them.
func (e *envelope) rows(fallback []field) ([]models.RawRow, error) {
	fields := e.Fields
	if len(fields) == 0 {
		fields = fallback
	}

	rows := make([]models.RawRow, 0, len(e.Data))
	for i, raw := range e.Data {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			return nil, fmt.Errorf("row %d is empty", i)
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()

		switch raw[0] {
		case '[':
			var values []any
			if err := dec.Decode(&values); err != nil {
				return nil, fmt.Errorf("decode row %d: %w", i, err)
			}
			if len(fields) == 0 {
				return nil, fmt.Errorf("row %d is positional but response has no fields", i)
			}
			row := make(models.RawRow, len(fields))
			for j, f := range fields {
				if j < len(values) {
					row[f.Name] = values[j]
				} else {
					row[f.Name] = nil
				}
			}
			rows = append(rows, row)
		case '{':
			var row models.RawRow
			if err := dec.Decode(&row); err != nil {
				return nil, fmt.Errorf("decode row %d: %w", i, err)
			}
			rows = append(rows, row)
		default:
			return nil, fmt.Errorf("row %d is neither an array nor an object", i)
		}
	}
	return rows, nil
}

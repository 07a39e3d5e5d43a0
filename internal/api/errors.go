package api

import (
	"errors"
	"fmt"
)

var errMalformedToken = errors.New("malformed token response")

// AuthError is returned when the credential exchange fails
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("token exchange failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("token exchange failed with status %d: %s", e.StatusCode, truncate(e.Body, 256))
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// FetchErrorKind classifies a failed page fetch
type FetchErrorKind int

const (
	KindRateLimited FetchErrorKind = iota + 1
	KindUnauthorized
	KindBadResponse
	KindNetworkError
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindBadResponse:
		return "bad_response"
	case KindNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// FetchError is returned when a page cannot be fetched
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Page       int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch page %d: %s", e.Page, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchKind reports whether err is a FetchError of the given kind
func IsFetchKind(err error, kind FetchErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// APIError represents a non-2xx response from the reports API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ercot api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the status should be retried with backoff.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package models

import "time"

// RawRow is one upstream record keyed by its upstream field name
type RawRow map[string]any

// FetchPage is one page of raw records returned by a source
type FetchPage struct {
	Index        int      `json:"index"`
	TotalPages   int      `json:"total_pages"`
	TotalRecords int      `json:"total_records"`
	Rows         []RawRow `json:"-"`
}

// AuthToken is a bearer token held in memory only
type AuthToken struct {
	Value     string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the token can still be used at now, keeping margin
// in reserve before expiry.
func (t *AuthToken) ValidAt(now time.Time, margin time.Duration) bool {
	if t == nil || t.Value == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-margin))
}

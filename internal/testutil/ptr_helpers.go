package testutil

import "time"

// Float returns a pointer to the given float64
func Float(f float64) *float64 {
	return &f
}

// Time returns a pointer to the given time.Time
func Time(t time.Time) *time.Time {
	return &t
}

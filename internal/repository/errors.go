package repository

import "errors"

var (
	// ErrUnknownStream is returned for a stream kind with no table
	ErrUnknownStream = errors.New("unknown stream")
	// ErrInvalidTimestamp is returned when a stored timestamp cannot be read back
	ErrInvalidTimestamp = errors.New("invalid stored timestamp")
)

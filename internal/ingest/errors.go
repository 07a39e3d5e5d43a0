package ingest

import "fmt"

// Sink names one of the two write targets
type Sink string

const (
	// SinkPrimary is the system of record
	SinkPrimary Sink = "primary"
	// SinkDerived is the filtered time-series store
	SinkDerived Sink = "derived"
)

// WriteError is returned when a chunk exhausts its retry budget
type WriteError struct {
	Sink     Sink
	Chunk    int
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s write of chunk %d failed after %d attempts: %v", e.Sink, e.Chunk, e.Attempts, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

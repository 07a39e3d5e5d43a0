package models

import (
	"time"

	"github.com/google/uuid"
)

// CycleState is the stream driver's position in a cycle
type CycleState string

const (
	StateIdle            CycleState = "idle"
	StateResolvingCursor CycleState = "resolving_cursor"
	StateFetching        CycleState = "fetching"
	StateNormalizing     CycleState = "normalizing"
	StateWriting         CycleState = "writing"
	StateDone            CycleState = "done"
	StateFailed          CycleState = "failed"
)

// Outcome is the terminal classification of a cycle
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomePartial means the primary store is durable but the derived store lags
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// ChunkResult reports one chunk write to a sink
type ChunkResult struct {
	Index    int    `json:"index"`
	Points   int    `json:"points"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Succeeded reports whether the chunk was written
func (c ChunkResult) Succeeded() bool {
	return c.Error == ""
}

// WriteSummary reports a dual-sink write
type WriteSummary struct {
	PrimaryWritten int           `json:"primary_written"`
	DerivedWritten int           `json:"derived_written"`
	DerivedSkipped int           `json:"derived_skipped"`
	PrimaryChunks  []ChunkResult `json:"primary_chunks"`
	DerivedChunks  []ChunkResult `json:"derived_chunks"`
}

// FailedDerivedChunks returns the derived chunks that were not written
func (s WriteSummary) FailedDerivedChunks() []ChunkResult {
	var failed []ChunkResult
	for _, c := range s.DerivedChunks {
		if !c.Succeeded() {
			failed = append(failed, c)
		}
	}
	return failed
}

// Add folds another summary into s, renumbering its chunks after s's
func (s *WriteSummary) Add(o WriteSummary) {
	s.PrimaryWritten += o.PrimaryWritten
	s.DerivedWritten += o.DerivedWritten
	s.DerivedSkipped += o.DerivedSkipped
	base := len(s.PrimaryChunks)
	for _, c := range o.PrimaryChunks {
		c.Index += base
		s.PrimaryChunks = append(s.PrimaryChunks, c)
	}
	base = len(s.DerivedChunks)
	for _, c := range o.DerivedChunks {
		c.Index += base
		s.DerivedChunks = append(s.DerivedChunks, c)
	}
}

// CycleSummary is the structured result of one stream cycle
type CycleSummary struct {
	RunID           uuid.UUID     `json:"run_id"`
	Stream          string        `json:"stream"`
	Outcome         Outcome       `json:"outcome"`
	State           CycleState    `json:"state"`
	FailedAt        CycleState    `json:"failed_at,omitempty"`
	Since           time.Time     `json:"since"`
	StartedAt       time.Time     `json:"started_at"`
	Elapsed         time.Duration `json:"elapsed"`
	PagesFetched    int           `json:"pages_fetched"`
	RecordsFetched  int           `json:"records_fetched"`
	RecordsRejected int           `json:"records_rejected"`
	Write           WriteSummary  `json:"write"`
	Error           string        `json:"error,omitempty"`
}

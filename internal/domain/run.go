package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the terminal state of a reconciliation run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusPartial RunStatus = "PARTIAL"
	RunStatusFailed  RunStatus = "FAILED"
)

// PayoutOutcome records how one matched payout fared within a run.
type PayoutOutcome struct {
	PayoutID    string
	RowIndex    int
	Date        time.Time
	Description string
	Amount      decimal.Decimal

	RowsInserted int
	FilesAdded   []string
	Err          error
}

// RunStats is the run-scoped accumulator threaded through a
// reconciliation run. It is single-writer and append-only; the engine
// owns it for the duration of the run and hands it to reporting when
// the run finishes.
type RunStats struct {
	RunID     string
	StartedAt time.Time

	CandidateRows  int
	PayoutsListed  int
	PayoutsMatched int
	PayoutsApplied int
	PayoutsFailed  int

	FilesAdded   []string
	URLsAccessed []string

	Outcomes []PayoutOutcome
}

// AddFile records a created document asset for the run summary.
func (s *RunStats) AddFile(name string) {
	s.FilesAdded = append(s.FilesAdded, name)
}

// AddURL records an accessed receipt URL for the run summary.
func (s *RunStats) AddURL(url string) {
	s.URLsAccessed = append(s.URLsAccessed, url)
}

// Status derives the terminal run status from the per-payout outcomes.
func (s *RunStats) Status() RunStatus {
	switch {
	case s.PayoutsFailed == 0:
		return RunStatusSuccess
	case s.PayoutsApplied > 0:
		return RunStatusPartial
	default:
		return RunStatusFailed
	}
}

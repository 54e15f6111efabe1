// Package recon implements the payout reconciliation engine: matching
// ledger rows to processor payouts, decomposing each payout into
// balanced derived rows, and applying them to the ledger with
// compensating rollback.
package recon

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrAmountMismatch reports that the derived rows for a payout do not
// sum to the original ledger row amount within tolerance.
var ErrAmountMismatch = errors.New("recon: derived rows do not sum to payout row amount")

// PayoutError wraps a failure while processing one payout with enough
// row context to find it in the ledger. It never aborts the run; the
// engine records it and moves to the next payout.
type PayoutError struct {
	PayoutID    string
	RowIndex    int
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Err         error
}

func (e *PayoutError) Error() string {
	return fmt.Sprintf("recon: payout %s (row %d, %s, %q, %s): %v",
		e.PayoutID, e.RowIndex, e.Date.Format("2006-01-02"), e.Description, e.Amount.StringFixed(2), e.Err)
}

func (e *PayoutError) Unwrap() error {
	return e.Err
}

// RollbackError reports that compensation itself failed after a payout
// error. The ledger may be left inconsistent, so this is escalated
// rather than swallowed into the per-payout outcome.
type RollbackError struct {
	Cause    error
	Rollback error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("recon: rollback failed: %v (while compensating for: %v)", e.Rollback, e.Cause)
}

func (e *RollbackError) Unwrap() error {
	return e.Cause
}

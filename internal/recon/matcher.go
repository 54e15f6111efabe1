package recon

import (
	"time"

	"github.com/dvloznov/payout-reconciler/internal/domain"
	"github.com/dvloznov/payout-reconciler/internal/ledger"
	"github.com/dvloznov/payout-reconciler/internal/processor"
)

// arrivalOffset shifts the processor's arrival epoch before day
// truncation. Payouts arrive on Pacific bank days; the shift keeps late
// UTC arrivals on the calendar day the ledger records.
const arrivalOffset = 8 * time.Hour

// ArrivalDay converts a payout arrival epoch into the ledger calendar
// day it is expected to appear on.
func ArrivalDay(arrivalEpoch int64) time.Time {
	return ledger.TruncateToDay(time.Unix(arrivalEpoch, 0).UTC().Add(arrivalOffset))
}

// MatchPayout pairs a candidate ledger row with the first payout, in
// listing order, arriving on the row's day with the row's amount. The
// ledger records deposits with its own sign convention, so amounts are
// compared by magnitude. Returns nil when nothing matches; unmatched
// rows are skipped for the run, not failed.
func MatchPayout(row domain.LedgerRow, payouts []processor.Payout) *processor.Payout {
	rowAmount := row.Amount.Abs()

	for i := range payouts {
		p := &payouts[i]
		if !ArrivalDay(p.ArrivalDate).Equal(row.Date) {
			continue
		}
		diff := domain.FromMinorUnits(p.Amount).Sub(rowAmount).Abs()
		if diff.LessThan(domain.AmountTolerance) {
			return p
		}
	}
	return nil
}

// Package report delivers per-run reconciliation summaries to the
// configured destinations: email, Notion and the event stream.
package report

import (
	"fmt"
	"strings"

	"github.com/dvloznov/payout-reconciler/internal/domain"
)

// Summary renders the run outcome as plain text: headline counters,
// the created files and accessed URLs, and a per-payout breakdown.
// Every destination shares this rendering.
func Summary(stats *domain.RunStats, runErr error) string {
	var b strings.Builder

	status := stats.Status()
	if runErr != nil {
		status = domain.RunStatusFailed
	}

	fmt.Fprintf(&b, "Reconciliation run %s: %s\n", stats.RunID, status)
	fmt.Fprintf(&b, "Started: %s\n\n", stats.StartedAt.Format("2006-01-02 15:04:05 MST"))

	fmt.Fprintf(&b, "Candidate ledger rows: %d\n", stats.CandidateRows)
	fmt.Fprintf(&b, "Payouts listed: %d\n", stats.PayoutsListed)
	fmt.Fprintf(&b, "Payouts matched: %d\n", stats.PayoutsMatched)
	fmt.Fprintf(&b, "Payouts applied: %d\n", stats.PayoutsApplied)
	fmt.Fprintf(&b, "Payouts failed: %d\n", stats.PayoutsFailed)

	if runErr != nil {
		fmt.Fprintf(&b, "\nRun error: %v\n", runErr)
	}

	if len(stats.FilesAdded) > 0 {
		b.WriteString("\nFiles added:\n")
		for _, f := range stats.FilesAdded {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}
	if len(stats.URLsAccessed) > 0 {
		b.WriteString("\nURLs accessed:\n")
		for _, u := range stats.URLsAccessed {
			fmt.Fprintf(&b, "  %s\n", u)
		}
	}

	if len(stats.Outcomes) > 0 {
		b.WriteString("\nPayouts:\n")
		for _, o := range stats.Outcomes {
			fmt.Fprintf(&b, "  %s %s %s (row %d): ",
				o.Date.Format("2006-01-02"), o.PayoutID, o.Amount.StringFixed(2), o.RowIndex)
			if o.Err != nil {
				fmt.Fprintf(&b, "FAILED: %v\n", o.Err)
				continue
			}
			fmt.Fprintf(&b, "%d rows inserted, %d receipts\n", o.RowsInserted, len(o.FilesAdded))
		}
	}

	return b.String()
}

// Subject is the email subject line for a run summary.
func Subject(stats *domain.RunStats, runErr error) string {
	status := stats.Status()
	if runErr != nil {
		status = domain.RunStatusFailed
	}
	return fmt.Sprintf("Payout reconciliation %s: %d applied, %d failed",
		status, stats.PayoutsApplied, stats.PayoutsFailed)
}

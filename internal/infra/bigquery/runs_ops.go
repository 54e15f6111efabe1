package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/payout-reconciler/internal/domain"
)

// StartRun inserts a new row into reconciliation_runs with
// status=RUNNING. It implements the engine's audit surface.
func (r *RunRepository) StartRun(ctx context.Context, stats *domain.RunStats) error {
	q := r.client.Query(fmt.Sprintf(`
		INSERT %s.%s (
			run_id,
			started_ts,
			run_date,
			status
		)
		VALUES (
			@run_id,
			@started_ts,
			@run_date,
			@status
		)
	`, r.dataset, runsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: stats.RunID},
		{Name: "started_ts", Value: stats.StartedAt},
		{Name: "run_date", Value: civil.DateOf(stats.StartedAt)},
		{Name: "status", Value: string(domain.RunStatusRunning)},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("StartRun: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("StartRun: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("StartRun: job error: %w", err)
	}

	return nil
}

// FinishRun finalizes the run row: terminal status, counters,
// finished_ts and a truncated error message when the run failed.
func (r *RunRepository) FinishRun(ctx context.Context, stats *domain.RunStats, runErr error) error {
	terminal := stats.Status()
	errMsg := ""
	if runErr != nil {
		terminal = domain.RunStatusFailed
		errMsg = runErr.Error()
		const maxLen = 2000
		if len(errMsg) > maxLen {
			errMsg = errMsg[:maxLen]
		}
	}

	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message,
		    candidate_rows = @candidate_rows,
		    payouts_listed = @payouts_listed,
		    payouts_matched = @payouts_matched,
		    payouts_applied = @payouts_applied,
		    payouts_failed = @payouts_failed,
		    files_added = @files_added,
		    urls_accessed = @urls_accessed
		WHERE run_id = @run_id
	`, r.dataset, runsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(terminal)},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errMsg},
		{Name: "candidate_rows", Value: int64(stats.CandidateRows)},
		{Name: "payouts_listed", Value: int64(stats.PayoutsListed)},
		{Name: "payouts_matched", Value: int64(stats.PayoutsMatched)},
		{Name: "payouts_applied", Value: int64(stats.PayoutsApplied)},
		{Name: "payouts_failed", Value: int64(stats.PayoutsFailed)},
		{Name: "files_added", Value: int64(len(stats.FilesAdded))},
		{Name: "urls_accessed", Value: int64(len(stats.URLsAccessed))},
		{Name: "run_id", Value: stats.RunID},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("FinishRun: running update query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("FinishRun: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("FinishRun: job error: %w", err)
	}

	return nil
}

// ListRecentRuns returns the most recent run rows, newest first.
func (r *RunRepository) ListRecentRuns(ctx context.Context, limit int) ([]*ReconciliationRunRow, error) {
	if limit <= 0 {
		limit = 20
	}

	q := r.client.Query(fmt.Sprintf(`
		SELECT *
		FROM %s.%s
		ORDER BY started_ts DESC
		LIMIT @limit
	`, r.dataset, runsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: int64(limit)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecentRuns: running query: %w", err)
	}

	var rows []*ReconciliationRunRow
	for {
		var row ReconciliationRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecentRuns: reading row: %w", err)
		}
		rows = append(rows, &row)
	}

	return rows, nil
}

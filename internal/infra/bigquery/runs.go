// Package bigquery persists the reconciliation run audit trail.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

const runsTable = "reconciliation_runs"

// ReconciliationRunRow mirrors the reconciliation_runs table schema.
type ReconciliationRunRow struct {
	RunID string `bigquery:"run_id"` // REQUIRED

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE
	RunDate    civil.Date             `bigquery:"run_date"`    // REQUIRED

	Status       string `bigquery:"status"`        // NULLABLE
	ErrorMessage string `bigquery:"error_message"` // NULLABLE

	CandidateRows  bigquery.NullInt64 `bigquery:"candidate_rows"`  // NULLABLE
	PayoutsListed  bigquery.NullInt64 `bigquery:"payouts_listed"`  // NULLABLE
	PayoutsMatched bigquery.NullInt64 `bigquery:"payouts_matched"` // NULLABLE
	PayoutsApplied bigquery.NullInt64 `bigquery:"payouts_applied"` // NULLABLE
	PayoutsFailed  bigquery.NullInt64 `bigquery:"payouts_failed"`  // NULLABLE

	FilesAdded   bigquery.NullInt64 `bigquery:"files_added"`   // NULLABLE
	URLsAccessed bigquery.NullInt64 `bigquery:"urls_accessed"` // NULLABLE
}

// RunRepository records run lifecycle rows with a shared BigQuery
// client to avoid creating a new connection for each operation.
type RunRepository struct {
	client  *bigquery.Client
	dataset string
}

// NewRunRepository creates a repository over the given project and
// dataset with a shared BigQuery client.
func NewRunRepository(ctx context.Context, projectID, dataset string) (*RunRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRunRepository: creating client: %w", err)
	}
	return &RunRepository{
		client:  client,
		dataset: dataset,
	}, nil
}

// Close closes the BigQuery client connection. This should be called
// when the repository is no longer needed to release resources.
func (r *RunRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
